package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/model-bridge/backend/pkg/errors"
	"github.com/model-bridge/backend/pkg/logger"
)

const (
	OrganizationHeader = "X-Organization-ID"
	UserHeader         = "X-User-ID"
)

// respondError writes err as {"error": {code, message, details}}. Errors that
// are not APIErrors are logged and hidden behind a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	apiErr, ok := apperrors.AsAPIError(err)
	if !ok || apiErr.Code == apperrors.ErrInternal {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    apperrors.ErrInternal,
				"message": "internal server error",
			},
		})
	}

	body := fiber.Map{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	}
	if len(apiErr.Details) > 0 {
		body["details"] = apiErr.Details
	}
	return c.Status(apperrors.GetHTTPStatusCode(apiErr)).JSON(fiber.Map{"error": body})
}

func organizationID(c *fiber.Ctx) (string, error) {
	org := c.Get(OrganizationHeader)
	if org == "" {
		return "", apperrors.BadRequest(OrganizationHeader + " header is required")
	}
	return org, nil
}

func actor(c *fiber.Ctx) string {
	return c.Get(UserHeader)
}

func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		logger.Debug("Failed to parse request body", zap.Error(err))
		return apperrors.BadRequestWithDetails("invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return nil
}
