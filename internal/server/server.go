// Пакет server — HTTP-сервер Site Host: маршруты chi и graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/site-host/internal/api/handlers"
	"github.com/bigkaa/goartstore/site-host/internal/api/middleware"
	"github.com/bigkaa/goartstore/site-host/internal/config"
)

// Handlers — набор обработчиков и middleware для маршрутизатора.
type Handlers struct {
	Health      *handlers.HealthHandler
	System      *handlers.SystemHandler
	Content     *handlers.ContentHandler
	Viewer      *handlers.ViewerHandler
	Maintenance *handlers.MaintenanceHandler
	Auth        *middleware.APIKeyAuth
	RateLimiter *middleware.RateLimiter
}

// NewRouter собирает маршруты Site Host.
func NewRouter(logger *slog.Logger, h Handlers) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v2", func(r chi.Router) {
		// Описание API без аутентификации, лимит по IP
		r.With(h.RateLimiter.Middleware()).Get("/", h.System.GetAPIInfo)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware())
			r.Use(h.RateLimiter.Middleware())

			r.Post("/upload", h.Content.Upload)
			r.Put("/upload/{slug}", h.Content.Update)
			r.Get("/file/{slug}", h.Content.GetFile)
			r.Delete("/file/{slug}", h.Content.DeleteFile)
			r.Post("/archive/{slug}", h.Content.Archive)
			r.Post("/unarchive/{slug}", h.Content.Unarchive)
			r.Get("/check-slug/{slug}", h.Content.CheckSlug)
			r.Get("/files", h.Content.ListFiles)
			r.Get("/stats", h.Content.Stats)
			r.Post("/maintenance/reconcile", h.Maintenance.Reconcile)
		})
	})

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v2", http.StatusFound)
	})
	router.Get("/{slug}", h.Viewer.Redirect)
	router.Get("/{slug}/*", h.Viewer.Serve)

	return router
}

// Server — HTTP-сервер Site Host.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New создаёт HTTP-сервер для готового маршрутизатора.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer:      srv,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger.With(slog.String("component", "http_server")),
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом из конфигурации.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
