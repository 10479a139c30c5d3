package http

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/infrastructure/metrics"
	"github.com/housecup/points-engine/pkg/apierror"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALLER IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Headers set by the identity gateway in front of the engine.
const (
	HeaderCallerID   = "X-Caller-ID"
	HeaderCallerRole = "X-Caller-Role"
)

type callerKey struct{}

// withCaller reads the caller headers into the request context. Missing or
// malformed headers are not rejected here; the operation that needs a caller
// refuses it.
func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := account.Caller{
			ID:   strings.TrimSpace(r.Header.Get(HeaderCallerID)),
			Role: account.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderCallerRole)))),
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		if caller.ID != "" {
			ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(logger.CallerID(caller.ID)))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(r *http.Request) account.Caller {
	c, _ := r.Context().Value(callerKey{}).(account.Caller)
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// API KEY
// ══════════════════════════════════════════════════════════════════════════════

// requireAPIKey rejects requests whose header does not carry one of keys.
func requireAPIKey(header string, keys []string) func(http.Handler) http.Handler {
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			valid = append(valid, []byte(k))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(header))
			for _, k := range valid {
				if subtle.ConstantTimeCompare(got, k) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierror.Unauthorized("Missing or invalid API key").Write(w)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING & RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

// requestLogger attaches a request-scoped logger, then logs and measures the
// request once it is served.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			w.Header().Set(chimw.RequestIDHeader, reqID)
			reqLog := base.With(slog.String("http_request_id", reqID))
			r = r.WithContext(logger.WithContext(r.Context(), reqLog))

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			reqLog.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("remote_ip", r.RemoteAddr),
				logger.Latency(elapsed),
			)
		})
	}
}

// recoverer turns a handler panic into a 500 response.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.FromContext(r.Context()).Error("panic recovered",
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
					slog.String("path", r.URL.Path),
				)
				apierror.InternalError("").Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
