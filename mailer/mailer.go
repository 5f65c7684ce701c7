package mailer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Mailer delivers account lifecycle mails. Delivery transport is deliberately
// behind an interface: development and tests run without a mail server.
type Mailer interface {
	SendEmailConfirmation(ctx context.Context, email string, name string, key string) error

	SendPasswordReset(ctx context.Context, email string, name string, key string) error
}

// Log writes mails to the application log instead of sending them. The
// confirmation and reset links can be copied from there during development.
type Log struct {
	BaseUrl string
}

func (m Log) SendEmailConfirmation(ctx context.Context, email string, name string, key string) error {
	logrus.
		WithField("email", email).
		WithField("link", m.BaseUrl+"/confirm-email/"+key).
		Infoln("Confirmation mail.")
	return nil
}

func (m Log) SendPasswordReset(ctx context.Context, email string, name string, key string) error {
	logrus.
		WithField("email", email).
		WithField("link", m.BaseUrl+"/set-password/"+key).
		Infoln("Password reset mail.")
	return nil
}
