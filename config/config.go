package config

import (
	"github.com/gofiber/fiber/v2"
)

// Limits are the validation constraints shared with clients through the
// public config endpoint, so forms validate against the same numbers the
// server enforces.
type Limits struct {
	AccountNameMaxLength     int `json:"account_name_max_length"`
	AccountPasswordMinLength int `json:"account_password_min_length"`
	AccountPasswordMaxLength int `json:"account_password_max_length"`
}

var DefaultLimits = Limits{
	AccountNameMaxLength:     50,
	AccountPasswordMinLength: 8,
	AccountPasswordMaxLength: 128,
}

type Model struct {
	AppName string `json:"app_name"`
	Limits
}

type Controller struct {
	AppName string
	Limits  Limits
}

func (c *Controller) InstallTo(app *fiber.App) {
	app.Get("/config/", c.serveConfig)
}

func (c *Controller) serveConfig(ctx *fiber.Ctx) error {
	return ctx.JSON(&Model{AppName: c.AppName, Limits: c.Limits})
}
