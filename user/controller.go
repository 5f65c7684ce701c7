package user

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kontoapp/konto/config"
	"github.com/kontoapp/konto/mailer"
	"github.com/kontoapp/konto/rest"
)

var ErrInvalidCredentials = rest.NewError(fiber.StatusUnauthorized,
	"InvalidCredentialsError", "Invalid credentials")

type Controller struct {
	Store    *Store
	Activity ActivityStore
	Mailer   mailer.Mailer
	Limits   config.Limits

	// Authorize is the bearer token middleware, injected to avoid a
	// dependency on the token package.
	Authorize fiber.Handler
}

func (c *Controller) InstallTo(app *fiber.App) {
	app.Post("/users/", c.serveRegister)
	app.Get("/users/me", rest.CombineHandlers(c.Authorize, c.serveMe))
	app.Patch("/users/me", rest.CombineHandlers(c.Authorize, c.serveUpdateMe))
	app.Delete("/users/me", rest.CombineHandlers(c.Authorize, c.serveDeleteMe))
	app.Post("/users/me/password", rest.CombineHandlers(c.Authorize, c.serveChangePassword))
	app.Post("/users/email-confirmation", c.serveConfirmEmail)
	app.Post("/users/password/reset", c.serveRequestPasswordReset)
	app.Post("/users/password/set", c.serveSetPassword)
}

func (c *Controller) serveRegister(ctx *fiber.Ctx) error {
	body := struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		rest.RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := c.validateName(body.Name); err != nil {
		return err
	}
	if err := validateEmail(body.Email); err != nil {
		return err
	}
	if err := c.validatePassword(body.Password); err != nil {
		return err
	}

	hash, err := HashPassword(body.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user, err := c.Store.Register(ctx.Context(), body.Name, body.Email, hash)
	if err != nil {
		return err
	}

	err = c.Mailer.SendEmailConfirmation(ctx.Context(), user.Email, user.Name, user.ConfirmationKey)
	if err != nil {
		// account exists, the mail can be re-requested later
		rest.RequestLog(ctx).WithError(err).Warningln("Could not send confirmation mail.")
	}
	return ctx.Status(fiber.StatusCreated).JSON(user)
}

func (c *Controller) serveMe(ctx *fiber.Ctx) error {
	user := ctx.Locals(LocalsKey).(*Model)
	return ctx.JSON(user)
}

func (c *Controller) serveUpdateMe(ctx *fiber.Ctx) error {
	user := ctx.Locals(LocalsKey).(*Model)
	body := struct {
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarUrl string `json:"avatar_url"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		rest.RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if body.Name != "" {
		if err := c.validateName(body.Name); err != nil {
			return err
		}
		user.Name = body.Name
	}
	if body.Email != "" {
		if err := validateEmail(body.Email); err != nil {
			return err
		}
		user.Email = body.Email
	}
	if body.AvatarUrl != "" {
		user.AvatarUrl = body.AvatarUrl
	}

	if err := c.Store.UpdateDetails(ctx.Context(), user); err != nil {
		return err
	}
	return ctx.JSON(user)
}

func (c *Controller) serveDeleteMe(ctx *fiber.Ctx) error {
	user := ctx.Locals(LocalsKey).(*Model)
	if err := c.Store.Delete(ctx.Context(), user.Id); err != nil {
		return err
	}
	err := c.Activity.AddLog(ctx.Context(), user.Id, Activity{Name: "account_deleted",
		Data: map[string]interface{}{"email": user.Email}})
	if err != nil {
		rest.RequestLog(ctx).WithError(err).Warningln("Could not log account_deleted activity.")
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) serveChangePassword(ctx *fiber.Ctx) error {
	user := ctx.Locals(LocalsKey).(*Model)
	body := struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		rest.RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if !VerifyPassword(user.PasswordHash, body.OldPassword) {
		return ErrInvalidCredentials
	}
	if err := c.validatePassword(body.NewPassword); err != nil {
		return err
	}

	hash, err := HashPassword(body.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := c.Store.UpdatePassword(ctx.Context(), user.Id, hash); err != nil {
		return err
	}
	err = c.Activity.AddLog(ctx.Context(), user.Id, Activity{Name: "password_changed"})
	if err != nil {
		rest.RequestLog(ctx).WithError(err).Warningln("Could not log password_changed activity.")
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) serveConfirmEmail(ctx *fiber.Ctx) error {
	body := struct {
		Key string `json:"key"`
	}{}
	if err := ctx.BodyParser(&body); err != nil || body.Key == "" {
		return ErrCannotConfirmEmail
	}

	user, err := c.Store.ByConfirmationKey(ctx.Context(), body.Key)
	if err != nil {
		if err == ErrNotFound {
			return ErrCannotConfirmEmail
		}
		return err
	}
	if user.ConfirmedEmail {
		return ErrEmailAlreadyConfirmed
	}
	if time.Now().After(user.CreatedAt.Add(ConfirmationTTL)) {
		return ErrConfirmationExpired
	}

	if err := c.Store.ConfirmEmail(ctx.Context(), user); err != nil {
		return err
	}
	rest.RequestLog(ctx).WithField("user_id", user.Id).Infoln("Email confirmed.")
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) serveRequestPasswordReset(ctx *fiber.Ctx) error {
	body := struct {
		Email string `json:"email"`
	}{}
	if err := ctx.BodyParser(&body); err != nil || body.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	user, err := c.Store.ByEmail(ctx.Context(), body.Email)
	if err != nil {
		if err == ErrNotFound {
			// do not leak which emails have accounts
			rest.RequestLog(ctx).Infoln("Password reset requested for unknown email.")
			return ctx.SendStatus(fiber.StatusNoContent)
		}
		return err
	}

	key, err := c.Store.BeginPasswordReset(ctx.Context(), user)
	if err != nil {
		return err
	}
	err = c.Mailer.SendPasswordReset(ctx.Context(), user.Email, user.Name, key)
	if err != nil {
		return fmt.Errorf("send password reset mail: %w", err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) serveSetPassword(ctx *fiber.Ctx) error {
	body := struct {
		Key      string `json:"key"`
		Password string `json:"password"`
	}{}
	if err := ctx.BodyParser(&body); err != nil || body.Key == "" {
		return ErrResetKeyNotFound
	}
	if err := c.validatePassword(body.Password); err != nil {
		return err
	}

	user, err := c.Store.ByResetKey(ctx.Context(), body.Key)
	if err != nil {
		if err == ErrNotFound {
			return ErrResetKeyNotFound
		}
		return err
	}
	if !user.ResetRequestedAt.Valid ||
		time.Now().After(user.ResetRequestedAt.Time.Add(PasswordResetTTL)) {
		return ErrResetKeyExpired
	}
	if !user.Active {
		return ErrInactive
	}

	hash, err := HashPassword(body.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := c.Store.CompletePasswordReset(ctx.Context(), user, hash); err != nil {
		return err
	}
	err = c.Activity.AddLog(ctx.Context(), user.Id, Activity{Name: "password_reset"})
	if err != nil {
		rest.RequestLog(ctx).WithError(err).Warningln("Could not log password_reset activity.")
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) validateName(name string) error {
	if name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing name")
	}
	if len(name) > c.Limits.AccountNameMaxLength {
		return fiber.NewError(fiber.StatusBadRequest, "name too long")
	}
	return nil
}

func (c *Controller) validatePassword(password string) error {
	if len(password) < c.Limits.AccountPasswordMinLength {
		return fiber.NewError(fiber.StatusBadRequest, "password too short")
	}
	if len(password) > c.Limits.AccountPasswordMaxLength {
		return fiber.NewError(fiber.StatusBadRequest, "password too long")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fiber.NewError(fiber.StatusBadRequest, "invalid email")
	}
	return nil
}
