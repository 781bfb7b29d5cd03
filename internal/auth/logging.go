// logging.go -- Request-scoped logging.
package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MGallo-Code/obol/internal/store"
)

// logReq logs msg with the request id, client, route and browser scope attached.
// Tokens and codes must never be passed in args.
func logReq(r *http.Request, level slog.Level, msg string, args ...any) {
	ctx := r.Context()
	if !slog.Default().Enabled(ctx, level) {
		return
	}
	attrs := []any{
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("ip", r.RemoteAddr),
		slog.String("method", r.Method),
		slog.String("route", routePattern(r)),
		slog.String("scope", store.ScopeFromContext(ctx)),
	}
	slog.Log(ctx, level, msg, append(attrs, args...)...)
}

// routePattern prefers the chi pattern so callback query strings and ids stay out of logs.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func logInfo(r *http.Request, msg string, args ...any) {
	logReq(r, slog.LevelInfo, msg, args...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	logReq(r, slog.LevelWarn, msg, args...)
}

func logError(r *http.Request, msg string, args ...any) {
	logReq(r, slog.LevelError, msg, args...)
}

// AccessLog logs one line per request with the matched route pattern in place of the
// request URI. Callback query strings carry codes and state and must not be logged.
func AccessLog() func(http.Handler) http.Handler {
	return middleware.RequestLogger(accessLogFormatter{})
}

type accessLogFormatter struct{}

func (accessLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &accessLogEntry{r: r}
}

type accessLogEntry struct {
	r *http.Request
}

// Write runs after routing, so the route pattern is known by now.
func (e *accessLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	slog.Info("request",
		slog.String("request_id", middleware.GetReqID(e.r.Context())),
		slog.String("method", e.r.Method),
		slog.String("route", routePattern(e.r)),
		slog.Int("status", status),
		slog.Int("bytes", bytes),
		slog.Duration("elapsed", elapsed),
	)
}

func (e *accessLogEntry) Panic(v any, stack []byte) {
	slog.Error("panic serving request",
		slog.String("request_id", middleware.GetReqID(e.r.Context())),
		slog.String("route", routePattern(e.r)),
		slog.Any("panic", v),
		slog.String("stack", string(stack)),
	)
}
