// ABOUTME: Maps service errors onto HTTP status codes
// ABOUTME: Failure bodies share the {success, message} shape of every response

package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smokingpi/smokeadmin/internal/admin"
	"github.com/smokingpi/smokeadmin/internal/store"
)

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrStoreUnavailable), errors.Is(err, admin.ErrNoDeployer):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}
	return c.JSON(status, admin.Result{Message: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, admin.Result{Message: msg})
}
