package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

type loggerKey struct{}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// LoggerFrom returns the request-scoped logger set by LoggerMiddleware.
func LoggerFrom(ctx context.Context, fallback observability.Logger) observability.Logger {
	if l, ok := ctx.Value(loggerKey{}).(observability.Logger); ok {
		return l
	}
	return fallback
}

// LoggerMiddleware scopes a logger to the request and records one access line
// and the request counter once the handler returns.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", requestID(r))
			ctx := context.WithValue(r.Context(), loggerKey{}, entry)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			entry.WithFields(map[string]interface{}{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request")
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer("http").Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("request.id", requestID(r)),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type accessKey struct{}

// AccessFrom returns the AccessContext resolved by RequireRoles.
func AccessFrom(ctx context.Context) (domain.AccessContext, bool) {
	ac, ok := ctx.Value(accessKey{}).(domain.AccessContext)
	return ac, ok
}

// RequireRoles admits signed-in callers currently acting as one of roles.
// With no roles it only requires a signed-in caller.
func RequireRoles(roles RoleController, allowed ...domain.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			ac := roles.Context(r.Context(), id.SignedIn, id.ID)

			required := allowed
			if len(required) == 0 {
				required = []domain.Role{ac.Role}
			}
			decision := domain.Authorize(ac, required...)
			if !decision.Allowed {
				observability.AccessDenied.WithLabelValues(string(decision.Reason)).Inc()
				writeDenied(w, decision, allowed)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accessKey{}, ac)))
		})
	}
}

// RateLimitMiddleware applies perCaller to the signed-in identity when there
// is one and perIP to the client address always.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, perCaller, perIP rateLimit.Rule) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := IdentityFrom(r.Context()); id.SignedIn && !rl.Allow(r.Context(), "user:"+id.ID, perCaller) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			if !rl.Allow(r.Context(), "ip:"+clientIP(r), perIP) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireCallbackSecret admits requests carrying secret in X-Callback-Secret.
// An empty secret admits nothing.
func RequireCallbackSecret(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Callback-Secret")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				observability.AccessDenied.WithLabelValues("callback_secret").Inc()
				writeError(w, http.StatusUnauthorized, "invalid_callback_secret", "missing or wrong callback secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyMiddleware replays the first response recorded for an
// Idempotency-Key. Keys are scoped to the caller, the path and the request
// body, so reusing a key for a different request runs that request.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeError(w, http.StatusBadRequest, "missing_idempotency_key", "missing Idempotency-Key")
				return
			}
			if len(key) < 16 || len(key) > 128 {
				writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "invalid Idempotency-Key")
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_body", "request body too large or unreadable")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			key = IdentityFrom(r.Context()).ID + ":" + r.URL.Path + ":" + hex.EncodeToString(sum[:]) + ":" + key

			existing, err := idemp.Begin(r.Context(), key)
			if errors.Is(err, idempotency.ErrInFlight) {
				writeError(w, http.StatusConflict, "request_in_flight", err.Error())
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal", "idempotency store unavailable")
				return
			}
			if existing != nil {
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Result)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					idemp.Abort(context.WithoutCancel(r.Context()), key)
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)

			err = idemp.Finish(context.WithoutCancel(r.Context()), key, idempotency.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Result:      rec.body.Bytes(),
			})
			if err != nil {
				LoggerFrom(r.Context(), logger).Warn("failed to record idempotent response: ", err)
			}
		})
	}
}

// recordingWriter passes the response through and keeps a copy.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(status int) {
	if !rw.wroteHeader {
		rw.status = status
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
