package temporal

import (
	"context"
	"net"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/interceptors"
)

// Dial waits for the Temporal frontend to accept TCP connections, then dials
// the SDK client with a linear backoff capped at 15s. It only gives up when
// ctx is done.
func Dial(ctx context.Context, cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	host := cfg.Host
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
		if err := sleep(ctx, time.Second); err != nil {
			return nil, err
		}
	}

	opts := client.Options{
		HostPort:  host,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger),
		ConnectionOptions: client.ConnectionOptions{
			DialOptions: []grpc.DialOption{
				grpc.WithChainUnaryInterceptor(interceptors.RPCMetricsUnaryInterceptor()),
			},
		},
	}

	for attempt := 1; ; attempt++ {
		c, err := client.Dial(opts)
		if err == nil {
			logger.Info("Connected to Temporal", zap.String("host", host), zap.String("namespace", cfg.Namespace))
			return c, nil
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", host),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
