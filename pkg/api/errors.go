package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
)

// mapStoreError maps Store-layer and tenant-boundary errors to HTTP
// error responses.
func mapStoreError(err error) *echo.HTTPError {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "exception not found")
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return echo.NewHTTPError(http.StatusConflict, "exception was concurrently modified, retry")
	}
	if errors.Is(err, tenant.ErrCrossTenant) {
		return echo.NewHTTPError(http.StatusForbidden, "cross-tenant access denied")
	}

	slog.Error("unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
