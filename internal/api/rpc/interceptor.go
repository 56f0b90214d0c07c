// interceptor.go — унарный интерсептор: идентичность, логирование, метрики.
package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bigkaa/goartstore/access-point/internal/api/middleware"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// Prometheus метрики RPC
var (
	rpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ap_rpc_requests_total",
			Help: "Общее количество RPC-вызовов",
		},
		[]string{"method", "code"},
	)

	rpcRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ap_rpc_request_duration_seconds",
			Help:    "Длительность RPC-вызовов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// UnaryInterceptor извлекает актора из metadata authorization
// ("Bearer <jwt>"), логирует вызов и обновляет метрики.
// Без authorization — анонимный актор, невалидный токен → Unauthenticated.
func UnaryInterceptor(auth *middleware.JWTAuth, logger *slog.Logger) grpc.UnaryServerInterceptor {
	logger = logger.With(slog.String("component", "rpc"))

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		resp, err := authenticate(ctx, auth, req, handler)

		code := status.Code(err)
		duration := time.Since(start)
		rpcRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		rpcRequestDuration.WithLabelValues(info.FullMethod).Observe(duration.Seconds())

		level := slog.LevelInfo
		switch code {
		case codes.OK, codes.InvalidArgument, codes.NotFound, codes.OutOfRange, codes.FailedPrecondition:
		case codes.Internal, codes.Unknown:
			level = slog.LevelError
		default:
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "RPC",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("duration", duration),
		)

		return resp, err
	}
}

func authenticate(ctx context.Context, auth *middleware.JWTAuth, req any, handler grpc.UnaryHandler) (any, error) {
	if auth != nil {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 && values[0] != "" {
				actor, err := auth.ParseBearer(ctx, values[0])
				if err != nil {
					return nil, status.Error(codes.Unauthenticated, "Невалидный или просроченный токен")
				}
				ctx = model.WithActor(ctx, actor)
			}
		}
	}
	return handler(ctx, req)
}
