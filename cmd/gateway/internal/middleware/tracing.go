package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/tracing"
)

// TracingMiddleware opens a server span per request, continuing an incoming
// W3C traceparent, and echoes the trace id in X-Trace-ID.
type TracingMiddleware struct {
	logger     *zap.Logger
	propagator propagation.TextMapPropagator
}

func NewTracingMiddleware(logger *zap.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger, propagator: propagation.TraceContext{}}
}

// Middleware returns the HTTP middleware function
func (tm *TracingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tm.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracing.StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		)
		defer span.End()

		traceID := tracing.TraceID(ctx)
		if traceID == "" {
			traceID = extractTraceID(r)
		}
		w.Header().Set("X-Trace-ID", traceID)

		tm.logger.Debug("Request received",
			zap.String("trace_id", traceID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID is used when no tracer provider is installed.
func extractTraceID(r *http.Request) string {
	if id, ok := tracing.ParseTraceparent(r.Header.Get("traceparent")); ok {
		return id
	}
	if id := r.Header.Get("X-Trace-ID"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
