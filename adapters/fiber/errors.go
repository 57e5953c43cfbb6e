package fiber

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/ApexAZ/zentropy-sub008/core"
)

// writeError maps gateway errors to responses. Anything unrecognised is
// reported as an opaque 500.
func writeError(c fiber.Ctx, err error) error {
	status := mapErrorToStatus(err)
	body := core.ErrorResponse{Error: err.Error()}

	var rl *core.RateLimitError
	if errors.As(err, &rl) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(rl.RetryAfterSeconds()))
	}

	var violation *core.PolicyViolationError
	if errors.As(err, &violation) {
		body.Reason = violation.Reason
	}

	switch status {
	case http.StatusInternalServerError:
		body.Error = core.ErrInternal.Error()
	case http.StatusServiceUnavailable:
		body.Error = core.ErrUnavailable.Error()
	}

	return c.Status(status).JSON(body)
}

// mapErrorToStatus maps core errors to HTTP status codes
func mapErrorToStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, core.ErrTooManyAttempts):
		return http.StatusTooManyRequests

	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrInvalidCurrentPassword),
		errors.Is(err, core.ErrUnauthenticated):
		return http.StatusUnauthorized

	case errors.Is(err, core.ErrPolicyViolation),
		errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest

	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, core.ErrUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
