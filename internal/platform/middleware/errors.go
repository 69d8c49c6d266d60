package middleware

import (
	"github.com/labstack/echo/v4"
)

// Codes used in error bodies written by this package. Statuses carry the
// meaning; clients that do not know a code fall back to the status.
const (
	codeBadRequest  = "VALIDATION_ERROR"
	codeTooLarge    = "PAYLOAD_TOO_LARGE"
	codeRateLimited = "RATE_LIMITED"
	codeTimeout     = "TIMEOUT"
	codeInternal    = "INTERNAL_ERROR"
)

// ErrorBody matches the shape of the API's domain error responses.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c echo.Context, status int, code, msg string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, ErrorBody{Code: code, Message: msg})
}
