// Package server exposes the HTTP API: health, readiness, metrics, message
// ingest for platform adapters, and admin endpoints for links, summaries and
// cones. It injects correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/ghostbot/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(deps Deps) http.Handler {
	limiter := newRateLimiter(deps.Access, deps.Redis)
	handlers := NewHandlers(deps)

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /healthz", handlers.HandleHealthz)
	mux.HandleFunc("GET /readyz", handlers.HandleReadyz)
	mux.HandleFunc("GET /status", handlers.HandleStatus)

	// Platform adapters
	mux.HandleFunc("POST /messages", handlers.HandleMessage)
	mux.HandleFunc("POST /messages/reply", handlers.HandleReply)
	mux.HandleFunc("POST /links", handlers.HandleLinkRequest)
	mux.HandleFunc("POST /links/confirm", handlers.HandleLinkConfirm)

	// Admin endpoints
	mux.HandleFunc("GET /admin/identities/{platform}/{user_id}", handlers.HandleIdentity)
	mux.HandleFunc("POST /admin/links/unlink", handlers.HandleUnlink)
	mux.HandleFunc("POST /admin/summaries/refresh", handlers.HandleSummaryRefresh)
	mux.HandleFunc("POST /admin/cones", handlers.HandleConeApply)
	mux.HandleFunc("GET /admin/cones/{subject}", handlers.HandleConeStatus)
	mux.HandleFunc("DELETE /admin/cones/{subject}", handlers.HandleConeRemove)
	mux.HandleFunc("POST /admin/save", handlers.HandleFlush)

	// Everything but probes and metrics acts on behalf of users and requires auth.
	// Message ingest is high volume and is not rate limited.
	ingest := adminAuth(mux, deps.Access)
	admin := adminAuth(rateLimitMiddleware(mux, limiter, deps.Access.RateLimitWindow), deps.Access)
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/messages"):
			ingest.ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, "/admin/"), strings.HasPrefix(r.URL.Path, "/links"):
			admin.ServeHTTP(w, r)
		default:
			mux.ServeHTTP(w, r)
		}
	})
	return withRequestContext(routed)
}

// withRequestContext attaches a correlation id (reusing X-Correlation-ID when the
// caller sent one) and a server span to every request.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", corr)
		ctx := telemetry.WithCorrelation(r.Context(), corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPAttrs(r.Method, r.URL.Path, r.URL.String())...)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// The write timeout leaves room for a forced summary refresh, which waits on the LLM.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
