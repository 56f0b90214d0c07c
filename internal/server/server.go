// Пакет server — HTTP- и gRPC-серверы Access Point с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/bigkaa/goartstore/access-point/internal/api/handlers"
	"github.com/bigkaa/goartstore/access-point/internal/api/middleware"
	"github.com/bigkaa/goartstore/access-point/internal/config"
)

// AdminScope — scope для смены режима.
const AdminScope = "ap:admin"

// Routes — обработчики, монтируемые в HTTP-роутер.
type Routes struct {
	// Resources — объединённые таблицы маршрутов коллекций (шаблон chi → handler)
	Resources map[string]http.Handler
	Health    *handlers.HealthHandler
	System    *handlers.SystemHandler
	Mode      *handlers.ModeHandler
	OpenAPI   http.Handler
	// Auth — JWT middleware; nil — все запросы анонимные
	Auth *middleware.JWTAuth
}

// NewRouter собирает chi-роутер: middleware, служебные endpoints и
// таблицы маршрутов коллекций.
func NewRouter(logger *slog.Logger, routes Routes) chi.Router {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())
	if routes.Auth != nil {
		router.Use(routes.Auth.Middleware())
	}

	router.Get("/health/live", routes.Health.HealthLive)
	router.Get("/health/ready", routes.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", routes.System.GetServiceInfo)
		r.Method(http.MethodGet, "/openapi.yaml", routes.OpenAPI)
		r.With(middleware.RequireScope(AdminScope)).Post("/mode/transition", routes.Mode.TransitionMode)
	})

	for pattern, h := range routes.Resources {
		router.Handle(pattern, h)
	}

	return router
}

// Server — HTTP-сервер и необязательный gRPC-сервер.
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт серверы. grpcServer == nil или AP_RPC_PORT=0 — без RPC.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler, grpcServer *grpc.Server) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	if cfg.RPCPort == 0 {
		grpcServer = nil
	}

	return &Server{
		httpServer: srv,
		grpcServer: grpcServer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает серверы и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом
// AP_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	// Канал для ошибок серверов
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}()

	if s.grpcServer != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.RPCPort))
		if err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("ошибка открытия RPC-порта %d: %w", s.cfg.RPCPort, err)
		}
		go func() {
			s.logger.Info("gRPC-сервер запущен", slog.String("addr", lis.Addr().String()))
			if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("ошибка gRPC-сервера: %w", err)
			}
		}()
	}

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст отменён, завершение работы")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if s.grpcServer != nil {
		s.stopGRPC(shutdownCtx)
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("ошибка при graceful shutdown: %w", err))
	}

	s.logger.Info("Серверы остановлены")
	return runErr
}

// stopGRPC ждёт завершения активных вызовов до дедлайна ctx, затем
// закрывает соединения принудительно.
func (s *Server) stopGRPC(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("gRPC graceful stop не уложился в таймаут", slog.Duration("timeout", s.cfg.ShutdownTimeout))
		s.grpcServer.Stop()
	}
}
