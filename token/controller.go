package token

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kontoapp/konto/rest"
	"github.com/kontoapp/konto/user"
)

var (
	ErrTokenRequired = rest.NewError(fiber.StatusUnprocessableEntity,
		"RefreshTokenRequiredError", "Refresh token required")
	ErrInvalidToken = rest.NewError(fiber.StatusUnprocessableEntity,
		"InvalidTokenError", "Invalid token")
	ErrRevokedToken = rest.NewError(fiber.StatusUnprocessableEntity,
		"RevokedTokenError", "Token has been revoked")

	// errAccessExpired is the exact (status, case, detail) triple clients key
	// their silent refresh on. Do not reword.
	errAccessExpired = rest.NewError(fiber.StatusUnprocessableEntity,
		"JWTDecodeError", "Signature has expired")
)

type Controller struct {
	Issuer    *Issuer
	UserStore *user.Store
	Activity  user.ActivityStore
}

func (c *Controller) InstallTo(app *fiber.App) {
	app.Post("/token/", c.serveObtain)
	app.Post("/token/refresh", c.serveRefresh)
	app.Post("/token/revoke", c.serveRevoke)
}

func (c *Controller) serveObtain(ctx *fiber.Ctx) error {
	email := ctx.FormValue("username")
	password := ctx.FormValue("password")
	if email == "" || password == "" {
		return user.ErrInvalidCredentials
	}

	account, err := c.UserStore.ByEmail(ctx.Context(), email)
	if err != nil {
		if err == user.ErrNotFound {
			rest.RequestLog(ctx).Infoln("Login attempt for unknown email.")
			return user.ErrInvalidCredentials
		}
		return err
	}
	if !user.VerifyPassword(account.PasswordHash, password) {
		rest.RequestLog(ctx).WithField("user_id", account.Id).Infoln("Invalid password.")
		return user.ErrInvalidCredentials
	}
	if !account.Active {
		return user.ErrInactive
	}

	access, err := c.Issuer.IssueAccess(account.Id)
	if err != nil {
		return fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := c.Issuer.IssueRefresh(account.Id)
	if err != nil {
		return fmt.Errorf("issue refresh token: %w", err)
	}

	if err := c.UserStore.RecordLogin(ctx.Context(), account.Id); err != nil {
		return err
	}
	err = c.Activity.AddLog(ctx.Context(), account.Id, user.Activity{Name: "login"})
	if err != nil {
		rest.RequestLog(ctx).WithError(err).Warningln("Could not log login activity.")
	}

	return ctx.JSON(map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (c *Controller) serveRefresh(ctx *fiber.Ctx) error {
	body := struct {
		Token string `json:"token"`
	}{}
	if err := ctx.BodyParser(&body); err != nil || body.Token == "" {
		return ErrTokenRequired
	}

	claims, err := c.Issuer.Verify(body.Token, TypeRefresh)
	switch err {
	case nil:
	case ErrRevoked:
		return ErrRevokedToken
	case ErrExpired, ErrMalformed:
		return ErrInvalidToken
	default:
		return err
	}
	userId, err := claims.UserId()
	if err != nil {
		return ErrInvalidToken
	}

	account, err := c.UserStore.ById(ctx.Context(), userId)
	if err != nil {
		return err
	}
	if !account.Active {
		return user.ErrInactive
	}

	access, err := c.Issuer.IssueAccess(account.Id)
	if err != nil {
		return fmt.Errorf("issue access token: %w", err)
	}
	return ctx.JSON(map[string]interface{}{
		"access_token": access,
		"token_type":   "bearer",
	})
}

func (c *Controller) serveRevoke(ctx *fiber.Ctx) error {
	body := struct {
		Token string `json:"token"`
	}{}
	if err := ctx.BodyParser(&body); err != nil || body.Token == "" {
		return ErrInvalidToken
	}

	if err := c.Issuer.Revoke(body.Token); err != nil {
		if err == ErrMalformed {
			return ErrInvalidToken
		}
		return err
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// Authorize loads the account matching the bearer access token into locals.
// An expired access token answers with the JWTDecodeError case, which tells
// well-behaved clients to refresh and retry.
func (c *Controller) Authorize(ctx *fiber.Ctx) error {
	auth := ctx.Get(fiber.HeaderAuthorization)
	if auth == "" {
		return fiber.ErrUnauthorized
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return fiber.NewError(fiber.ErrBadRequest.Code, "invalid auth type")
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	claims, err := c.Issuer.Verify(raw, TypeAccess)
	switch err {
	case nil:
	case ErrExpired:
		return errAccessExpired
	case ErrRevoked, ErrMalformed:
		return fiber.ErrUnauthorized
	default:
		return err
	}
	userId, err := claims.UserId()
	if err != nil {
		return fiber.ErrUnauthorized
	}

	account, err := c.UserStore.ById(ctx.Context(), userId)
	if err != nil {
		if err == user.ErrNotFound {
			return fiber.ErrUnauthorized
		}
		return fmt.Errorf("retrieve user by id: %w", err)
	}
	if !account.Active {
		return user.ErrInactive
	}

	rest.RequestLog(ctx).
		WithField("user_id", account.Id).
		Infoln("Authorized access.")

	ctx.Locals(user.LocalsKey, account)
	return nil
}
