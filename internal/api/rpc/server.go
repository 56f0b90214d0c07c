// server.go — регистрация таблиц маршрутов в grpc.Server.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/bigkaa/goartstore/access-point/internal/api/middleware"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// NewServer создаёт grpc.Server с интерсептором аутентификации,
// логирования и метрик. auth == nil — все вызовы анонимные.
func NewServer(auth *middleware.JWTAuth, logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryInterceptor(auth, logger)))
}

// Register регистрирует методы таблиц как сервисы: ключ
// "<коллекция>/<метод>" становится полным именем /<коллекция>/<метод>.
func Register(s *grpc.Server, methods map[string]Method, logger *slog.Logger) {
	services := make(map[string][]grpc.MethodDesc)
	for key, m := range methods {
		serviceName, methodName, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		services[serviceName] = append(services[serviceName], grpc.MethodDesc{
			MethodName: methodName,
			Handler:    unaryHandler(serviceName, methodName, m, logger),
		})
	}

	for name, descs := range services {
		sort.Slice(descs, func(i, j int) bool { return descs[i].MethodName < descs[j].MethodName })
		s.RegisterService(&grpc.ServiceDesc{
			ServiceName: name,
			HandlerType: (*any)(nil),
			Methods:     descs,
			Streams:     []grpc.StreamDesc{},
			Metadata:    SchemaFile,
		}, nil)
	}
}

// unaryHandler повторяет сгенерированный protoc-gen-go-grpc обработчик:
// декодирование запроса, затем вызов через интерсептор. Интерсептор
// получает типизированный запрос, клиенту уходит protobuf-сообщение.
func unaryHandler(serviceName, methodName string, m Method, logger *slog.Logger) grpc.MethodHandler {
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := m.Handle(ctx, req.(Message))
		if err != nil {
			return nil, toStatus(err, logger)
		}
		return toProto(resp), nil
	}

	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := m.NewRequest()
		in := dynamicpb.NewMessage(req.descriptor())
		if err := dec(in); err != nil {
			return nil, status.Error(codes.InvalidArgument, "Malformed request")
		}
		req.decode(in.ProtoReflect())
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{FullMethod: "/" + serviceName + "/" + methodName}
		return interceptor(ctx, req, info, call)
	}
}

// Code переводит вид ошибки операции в код gRPC.
func Code(err error) codes.Code {
	switch model.KindOf(err) {
	case model.ErrBadRequest:
		return codes.InvalidArgument
	case model.ErrAccessDenied:
		return codes.PermissionDenied
	case model.ErrNotFound:
		return codes.NotFound
	case model.ErrConflict, model.ErrModeNotAllowed:
		return codes.FailedPrecondition
	case model.ErrInvalidRange:
		return codes.OutOfRange
	case model.ErrPayloadTooLarge:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// toStatus переводит ошибку в status. Причина внутренних ошибок
// только логируется.
func toStatus(err error, logger *slog.Logger) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	code := Code(err)
	message := model.MessageOf(err)
	if code == codes.Internal {
		logger.Error("Ошибка выполнения RPC", slog.String("error", err.Error()))
		if message == "" {
			message = "Internal error"
		}
	}
	return status.Error(code, message)
}
