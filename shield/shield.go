// Package shield provides the HTTP middleware stack of the vigie status
// server: JSON-API security headers, a request ID with a per-request logger,
// and a request body cap.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey holds the per-request *slog.Logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the standard middleware stack for a JSON API.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(APIHeaders()),
		MaxBody(64 * 1024),
		RequestID(logger),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
