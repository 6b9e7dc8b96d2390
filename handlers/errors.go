// Package handlers exposes the mission engine over Fiber routes.
package handlers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gosimple/slug"

	"travel-missions/apperr"
	"travel-missions/middleware"
)

var validate = validator.New()

// ErrorHandler renders domain errors as {"error": code, "message": text} with
// the status of the code. It is installed as the Fiber app error handler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := strings.ReplaceAll(slug.Make(utils.StatusMessage(fe.Code)), "-", "_")
		return c.Status(fe.Code).JSON(fiber.Map{
			"error":   code,
			"message": fe.Message,
		})
	}

	code := apperr.CodeOf(err)
	message := err.Error()
	if code == apperr.Internal {
		middleware.Logger(c).WithError(err).Error("🔥 unhandled error")
		message = "internal server error"
	}
	return c.Status(code.HTTPStatus()).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

// bind parses the JSON body into req and runs its validate tags.
func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "invalid JSON", err)
	}
	if err := validate.Struct(req); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "invalid request body", err)
	}
	return nil
}
