package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route patterns that bypass authentication: health
// checks, the account endpoints a caller uses to obtain a token and the
// guest doctor directory.
var publicPaths = map[string]bool{
	"/health":                   true,
	"/health/db":                true,
	"/api/v1/auth/register":     true,
	"/api/v1/auth/login":        true,
	"/api/v1/guest/doctors":     true,
	"/api/v1/guest/doctors/:id": true,
	"/api/v1/guest/specialties": true,
}

// AuthSkipper returns true for requests whose matched route should skip
// authentication. Pass it as the Skipper on JWTConfig.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given route pattern is public.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
