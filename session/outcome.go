package session

import (
	"errors"
	"net/http"

	"github.com/kontoapp/konto/client"
)

// Backend error cases this layer recognizes. Anything else degrades to
// OutcomeUnknown, never to a crash or a raw transport error.
const (
	emailAlreadyConfirmedCase         = "EmailAlreadyConfirmedError"
	emailConfirmationTokenExpiredCase = "EmailConfirmationTokenExpiredError"
	resetPasswordTokenExpiredCase     = "ResetPasswordTokenExpiredError"
)

// Outcome is the classified result of a failed operation. The set is closed;
// user facing messages are derived from it, raw backend payloads never reach
// the UI.
type Outcome byte

const (
	OutcomeNone Outcome = iota
	OutcomeInvalidCredentials
	OutcomeInactiveAccount
	OutcomeAccountAlreadyExists
	OutcomeInvalidOrExpiredToken
	OutcomeAlreadyConfirmed
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeInactiveAccount:
		return "inactive_account"
	case OutcomeAccountAlreadyExists:
		return "account_already_exists"
	case OutcomeInvalidOrExpiredToken:
		return "invalid_or_expired_token"
	case OutcomeAlreadyConfirmed:
		return "already_confirmed"
	default:
		return "unknown"
	}
}

const (
	msgInvalidCredentials = "Incorrect email or password"
	msgInactiveAccount    = "The account is inactive. Please activate it via the activation link sent to your email."
	msgAlreadyExists      = "The account with provided email already exists"
	msgUnknown            = "Something went wrong. Please try again."

	msgRegisterSuccess     = "The account has been created. Check your email for the activation link."
	msgResetRequestSuccess = "Check your email for the password reset link."
	msgSetPasswordSuccess  = "The password has been changed. You can now log in."
	msgSetPasswordExpired  = "The password reset link has expired"
	msgChangePasswordOk    = "The password has been changed"
	msgChangePasswordWrong = "The current password is incorrect"
)

func apiError(err error) (*client.APIError, bool) {
	var apiErr *client.APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

func classifyLogin(err error) Outcome {
	apiErr, ok := apiError(err)
	switch {
	case !ok:
		return OutcomeUnknown
	case apiErr.Status == http.StatusUnauthorized:
		return OutcomeInvalidCredentials
	case apiErr.Status == http.StatusForbidden:
		return OutcomeInactiveAccount
	default:
		return OutcomeUnknown
	}
}

func classifyRegister(err error) Outcome {
	apiErr, ok := apiError(err)
	if ok && apiErr.Status == http.StatusConflict {
		return OutcomeAccountAlreadyExists
	}
	return OutcomeUnknown
}

func classifySetPassword(err error) Outcome {
	apiErr, ok := apiError(err)
	switch {
	case !ok:
		return OutcomeUnknown
	case apiErr.Status == http.StatusForbidden:
		return OutcomeInactiveAccount
	case apiErr.Is(http.StatusUnprocessableEntity, resetPasswordTokenExpiredCase):
		return OutcomeInvalidOrExpiredToken
	default:
		return OutcomeUnknown
	}
}

func classifyChangePassword(err error) Outcome {
	apiErr, ok := apiError(err)
	if ok && apiErr.Status == http.StatusUnauthorized {
		return OutcomeInvalidCredentials
	}
	return OutcomeUnknown
}

func classifyConfirmEmail(err error) Outcome {
	apiErr, ok := apiError(err)
	switch {
	case !ok:
		return OutcomeUnknown
	case apiErr.Is(http.StatusUnprocessableEntity, emailAlreadyConfirmedCase):
		return OutcomeAlreadyConfirmed
	case apiErr.Is(http.StatusUnprocessableEntity, emailConfirmationTokenExpiredCase):
		return OutcomeInvalidOrExpiredToken
	default:
		return OutcomeUnknown
	}
}

func loginMessage(outcome Outcome) string {
	switch outcome {
	case OutcomeInvalidCredentials:
		return msgInvalidCredentials
	case OutcomeInactiveAccount:
		return msgInactiveAccount
	default:
		return msgUnknown
	}
}

func registerMessage(outcome Outcome) string {
	if outcome == OutcomeAccountAlreadyExists {
		return msgAlreadyExists
	}
	return msgUnknown
}

func setPasswordMessage(outcome Outcome) string {
	switch outcome {
	case OutcomeInactiveAccount:
		return msgInactiveAccount
	case OutcomeInvalidOrExpiredToken:
		return msgSetPasswordExpired
	default:
		return msgUnknown
	}
}

func changePasswordMessage(outcome Outcome) string {
	if outcome == OutcomeInvalidCredentials {
		return msgChangePasswordWrong
	}
	return msgUnknown
}

// ConfirmEmailState drives the persistent message on the confirmation page;
// unlike the other operations it is not a one-shot notification.
type ConfirmEmailState byte

const (
	ConfirmEmailPending ConfirmEmailState = iota
	ConfirmEmailSuccess
	ConfirmEmailAlreadyConfirmed
	ConfirmEmailExpired
	ConfirmEmailFailed
)

func (s ConfirmEmailState) Message() string {
	switch s {
	case ConfirmEmailPending:
		return ""
	case ConfirmEmailSuccess:
		return "The email has been confirmed. You can now log in."
	case ConfirmEmailAlreadyConfirmed:
		return "The email has already been confirmed"
	case ConfirmEmailExpired:
		return "The activation link has expired"
	default:
		return "Could not confirm the email"
	}
}
