package rest

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the json body of every non-2xx reply. Case carries a
// machine readable identifier which clients use to classify failures;
// ErrorMessage is for humans only.
type ErrorResponse struct {
	Case         string                 `json:"case,omitempty"`
	ErrorMessage string                 `json:"error_message"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// Error is an anticipated request failure with a fixed case identifier.
// Anything else reaching the error handler is treated as internal and kept
// private.
type Error struct {
	Status  int
	Case    string
	Message string
	Context map[string]interface{}
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(status int, errCase string, message string) *Error {
	return &Error{Status: status, Case: errCase, Message: message}
}

func (e *Error) WithContext(context map[string]interface{}) *Error {
	return &Error{Status: e.Status, Case: e.Case, Message: e.Message, Context: context}
}

func RequestLog(ctx *fiber.Ctx) *logrus.Entry {
	return logrus.
		WithField("remote_addr", ctx.Context().RemoteAddr()).
		WithField("path", ctx.Path()).
		WithField("z_referer", string(ctx.Request().Header.Peek("Referer"))).
		WithField("z_user_agent", string(ctx.Request().Header.Peek("User-Agent"))).
		WithField("z_x_forwared_for", string(ctx.Request().Header.Peek("X-Forwarded-For")))
}

func ErrorHandler(ctx *fiber.Ctx, err error) error {
	switch e := err.(type) {
	case *Error:
		return ctx.
			Status(e.Status).
			JSON(&ErrorResponse{Case: e.Case, ErrorMessage: e.Message, Context: e.Context})
	case *fiber.Error:
		return ctx.
			Status(e.Code).
			JSON(&ErrorResponse{ErrorMessage: e.Message})
	default:
		RequestLog(ctx).WithError(err).Errorln("Internal server error.")
		// keep internal server errors private. reply with generic error message.
		return ctx.
			Status(fiber.ErrInternalServerError.Code).
			JSON(&ErrorResponse{ErrorMessage: fiber.ErrInternalServerError.Message})
	}
}

func NotFoundHandler(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound)
}

func CombineHandlers(handlers ...fiber.Handler) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		for _, handler := range handlers {
			err := handler(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func JsonErrorMessageResponse(message string) string {
	bytes, err := json.Marshal(ErrorResponse{ErrorMessage: message})
	if err != nil {
		panic(err)
	}
	return string(bytes)
}

func JsonCaseResponse(errCase string, message string) string {
	bytes, err := json.Marshal(ErrorResponse{Case: errCase, ErrorMessage: message})
	if err != nil {
		panic(err)
	}
	return string(bytes)
}
