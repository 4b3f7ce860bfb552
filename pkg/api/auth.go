package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// extractAuthor extracts the acting operator from oauth2-proxy headers.
// Priority: X-Forwarded-User > X-Forwarded-Email > "api-client".
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}

// extractTenantID reads the caller's tenant from the X-Tenant-ID header
// set by the ingress in front of this API (same oauth2-proxy-header
// convention as extractAuthor, one layer further up the proxy chain).
// A request with no tenant header is rejected before reaching a handler
// body so a source system misconfiguration fails loudly at submission
// time rather than silently landing in the wrong tenant's data.
func extractTenantID(c *echo.Context) (string, error) {
	id := c.Request().Header.Get("X-Tenant-ID")
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "X-Tenant-ID header is required")
	}
	return id, nil
}
