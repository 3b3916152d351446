package grpc

import (
	"context"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewServer 建立 gRPC server 並註冊帳本服務
// 攔截器順序: recovery -> metrics (可為 nil) -> logging
func NewServer(srv LedgerServiceServer, log zerolog.Logger, metrics *grpcprom.ServerMetrics, opts ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{RecoveryInterceptor(log)}
	if metrics != nil {
		chain = append(chain, metrics.UnaryServerInterceptor())
	}
	chain = append(chain, LoggingInterceptor(log))

	s := grpc.NewServer(append(opts, grpc.ChainUnaryInterceptor(chain...))...)
	RegisterLedgerServiceServer(s, srv)
	if metrics != nil {
		metrics.InitializeMetrics(s)
	}
	return s
}

// LoggingInterceptor 記錄每個請求的方法、狀態碼與耗時
// 業務拒絕記 info，Internal / Unavailable 記 warn 以上
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	log = log.With().Str("component", "grpc").Logger()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		var event *zerolog.Event
		switch code {
		case codes.OK:
			event = log.Debug()
		case codes.Internal, codes.Unknown:
			event = log.Error().Err(err)
		case codes.Unavailable, codes.DeadlineExceeded:
			event = log.Warn().Err(err)
		default:
			event = log.Info().Err(err)
		}
		event.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}

// RecoveryInterceptor panic 轉為 Internal 並記錄
func RecoveryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
		log.Error().Interface("panic", p).Msg("grpc handler panicked")
		return status.Error(codes.Internal, "internal error")
	}))
}
