package log

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

// UnaryServerInterceptor injects a request-scoped logger and logs each call.
// Health probes are logged at debug so they do not flood the output.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		child := logger.With().
			Str(FieldRequestID, requestIDFromMD(ctx)).
			Str(FieldGRPCMethod, info.FullMethod).
			Logger()

		resp, err := handler(WithLogger(ctx, child), req)

		completed(child, info.FullMethod, err).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Msg("unary call completed")
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
func StreamServerInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		ctx := ss.Context()
		child := logger.With().
			Str(FieldRequestID, requestIDFromMD(ctx)).
			Str(FieldGRPCMethod, info.FullMethod).
			Logger()

		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: WithLogger(ctx, child)})

		completed(child, info.FullMethod, err).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Msg("stream call completed")
		return err
	}
}

func completed(l zerolog.Logger, method string, err error) *zerolog.Event {
	lvl := zerolog.InfoLevel
	if err == nil && strings.HasPrefix(method, "/grpc.health.") {
		lvl = zerolog.DebugLevel
	}
	return l.WithLevel(lvl).Str(FieldGRPCCode, status.Code(err).String()).Err(err)
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func requestIDFromMD(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKeyRequestID); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.New().String()
}
