package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kassa-service/internal/logcontext"
	"kassa-service/internal/metrics"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/liveness", h.liveness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/sites/{siteID}", func(r chi.Router) {
		r.Post("/payments", h.createPayment)
		r.Post("/notifications", h.handleNotification)
	})

	return r
}

// requestLogger puts the request id into the log context and logs every request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ctx := logcontext.AppendCtx(r.Context(), slog.String("requestId", middleware.GetReqID(r.Context())))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.InfoContext(ctx, "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(startTime).Milliseconds())
		})
	}
}
