package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DefaultCORSMaxAge is the preflight cache lifetime in seconds.
const DefaultCORSMaxAge = 600

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	// AllowOrigins lists the browser origins allowed to call the display
	// API. "*" allows any origin.
	AllowOrigins []string

	// AllowMethods defaults to the verbs the display API serves.
	AllowMethods []string

	// AllowHeaders are the request headers a display may send.
	AllowHeaders []string

	// MaxAge is how long, in seconds, a preflight result may be cached.
	MaxAge int
}

// DefaultCORSConfig returns the configuration for the display API.
func DefaultCORSConfig(origins ...string) CORSConfig {
	return CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestID,
		},
		MaxAge: DefaultCORSMaxAge,
	}
}

// CORS returns a CORS middleware with the given configuration. Request IDs
// are exposed so a display can correlate its calls with server logs.
func CORS(config CORSConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  config.AllowOrigins,
		AllowMethods:  config.AllowMethods,
		AllowHeaders:  config.AllowHeaders,
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        config.MaxAge,
	})
}

// OriginChecker returns a WebSocket origin check that accepts requests
// without an Origin header, same-host origins and the listed origins.
func OriginChecker(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	anyOrigin := false
	for _, origin := range origins {
		if origin == "*" {
			anyOrigin = true
		}
		allowed[strings.TrimSuffix(strings.ToLower(origin), "/")] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get(echo.HeaderOrigin)
		if origin == "" || anyOrigin {
			return true
		}

		if _, ok := allowed[strings.ToLower(origin)]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
