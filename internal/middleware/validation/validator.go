package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/model-bridge/backend/pkg/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// report json names so errors match the request body
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Struct validates s against its `validate` tags and returns a BAD_REQUEST
// APIError listing each failing field.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.BadRequest(err.Error())
	}

	fields := make([]FieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: message(fe),
		})
	}

	return apperrors.BadRequestWithDetails("request validation failed", map[string]interface{}{
		"fields": fields,
	})
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fe.Field(), fe.Param())
	case "gte", "lte", "gt", "lt":
		return fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

type Config struct {
	MaxBodySize         int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects write requests whose body is not well-formed JSON.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		body := c.Body()
		if len(body) == 0 {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		allowed := false
		for _, allowedType := range cfg.AllowedContentTypes {
			if strings.HasPrefix(strings.ToLower(contentType), allowedType) {
				allowed = true
				break
			}
		}
		if !allowed {
			return reject(c, fiber.StatusUnsupportedMediaType, "unsupported content type")
		}

		if len(body) > cfg.MaxBodySize {
			return reject(c, fiber.StatusRequestEntityTooLarge, "request body too large")
		}

		if !json.Valid(body) {
			cfg.Logger.Warn("Malformed JSON body",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return reject(c, fiber.StatusBadRequest, "invalid JSON body")
		}

		return c.Next()
	}
}

func reject(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    apperrors.ErrBadRequest,
			"message": message,
		},
	})
}
