package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
)

// RPCMetricsUnaryInterceptor records latency, status code and request size
// of every unary call made by the Temporal client.
func RPCMetricsUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if m, ok := req.(proto.Message); ok {
			metrics.TemporalRPCBytes.WithLabelValues(method).Observe(float64(proto.Size(m)))
		}
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		metrics.TemporalRPCDuration.WithLabelValues(method, status.Code(err).String()).Observe(time.Since(start).Seconds())
		return err
	}
}
