package webhook

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorCode is the machine-readable failure reason returned to providers.
type ErrorCode string

const (
	CodeSignatureInvalid      ErrorCode = "SIGNATURE_INVALID"
	CodeParseError            ErrorCode = "PARSE_ERROR"
	CodeUnknownProvider       ErrorCode = "UNKNOWN_PROVIDER"
	CodeBusy                  ErrorCode = "WEBHOOK_BUSY"
	CodeOrderTransitionFailed ErrorCode = "ORDER_TRANSITION_FAILED"
	CodeStoreUnavailable      ErrorCode = "STORE_UNAVAILABLE"
)

// HTTPStatus maps an error code to the status code providers see.
// Only WEBHOOK_BUSY and STORE_UNAVAILABLE are worth a redelivery.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case "":
		return fiber.StatusOK
	case CodeSignatureInvalid:
		return fiber.StatusUnauthorized
	case CodeParseError:
		return fiber.StatusBadRequest
	case CodeUnknownProvider:
		return fiber.StatusNotFound
	case CodeOrderTransitionFailed:
		return fiber.StatusConflict
	case CodeBusy, CodeStoreUnavailable:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}

// Retryable reports whether a redelivery can change the outcome.
func (c ErrorCode) Retryable() bool {
	return c == CodeBusy || c == CodeStoreUnavailable
}

var (
	ErrParse           = errors.New("webhook payload invalid")
	ErrEventIgnored    = errors.New("webhook event type not handled")
	ErrUnknownProvider = errors.New("unknown webhook provider")
)

// ParseError names the payload field that made parsing fail.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse webhook payload: %s", e.Reason)
	}
	return fmt.Sprintf("parse webhook payload: %s: %s", e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Missing is the ParseError for an absent required field.
func Missing(field string) error {
	return &ParseError{Field: field, Reason: "missing"}
}
