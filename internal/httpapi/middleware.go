package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"sarathi/internal/auth"
	apperr "sarathi/internal/errors"
	"sarathi/internal/logger"
)

const requestIDHeader = "X-Request-Id"

func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					err := fmt.Errorf("panic: %v", rec)
					WriteError(r.Context(), logg, w, apperr.Wrap(apperr.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)
			next.ServeHTTP(w, r.WithContext(logg.WithRequestID(r.Context(), reqID)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logg.Info(logg.WithFields(ctx, map[string]any{
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}), "request.complete")
		})
	}
}

// Authenticate validates the bearer token and stores the principal in the request context.
func Authenticate(secret string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := auth.ParseBearer(r.Header.Get("Authorization"), secret)
			if err != nil {
				WriteError(r.Context(), logg, w, apperr.Wrap(apperr.CodeUnauthorized, err, "invalid credentials"))
				return
			}
			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = logg.WithActor(ctx, p.Kind, p.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireKind rejects principals of any other kind.
func RequireKind(kind string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := auth.RequireKind(r.Context(), kind); err != nil {
				WriteError(r.Context(), logg, w, apperr.New(apperr.CodeForbidden, kind+" access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
