package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/auth"
)

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key header that was already answered.
type IdempotencyMiddleware struct {
	redis  *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

func NewIdempotencyMiddleware(redis *redis.Client, environment string, logger *zap.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		redis:  redis,
		logger: logger,
		prefix: environment + ":idempotency:",
		ttl:    24 * time.Hour,
	}
}

// IdempotencyResult stores the cached result of an idempotent request
type IdempotencyResult struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	Timestamp  time.Time           `json:"timestamp"`
}

// responseRecorder captures the response for caching
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware returns the HTTP middleware function
func (im *IdempotencyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idempotencyKey := r.Header.Get("Idempotency-Key")
		// Streams are not replayable.
		if r.Method != http.MethodPost || idempotencyKey == "" || strings.HasSuffix(r.URL.Path, "/stream") {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		cacheKey := im.cacheKey(r, idempotencyKey)

		if cached, err := im.getCachedResult(ctx, cacheKey); err == nil {
			im.logger.Debug("Returning cached idempotent response",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("path", r.URL.Path),
			)
			for key, values := range cached.Headers {
				for _, value := range values {
					w.Header().Add(key, value)
				}
			}
			w.Header().Set("X-Idempotency-Cached", "true")
			w.Header().Set("X-Idempotency-Key", idempotencyKey)
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}

		recorder := newResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		// Only successful responses are replayed.
		if recorder.statusCode < 200 || recorder.statusCode >= 300 {
			return
		}
		result := &IdempotencyResult{
			StatusCode: recorder.statusCode,
			Headers:    recorder.Header().Clone(),
			Body:       recorder.body.Bytes(),
			Timestamp:  time.Now(),
		}
		if err := im.cacheResult(ctx, cacheKey, result); err != nil {
			im.logger.Error("Failed to cache idempotent response",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	})
}

// cacheKey hashes the key with the caller, the path and the body so a key
// reused for a different request does not replay the wrong answer.
func (im *IdempotencyMiddleware) cacheKey(r *http.Request, idempotencyKey string) string {
	subject := ""
	if user, err := auth.GetUserContext(r.Context()); err == nil {
		subject = user.Subject
	}

	h := sha256.New()
	h.Write([]byte(idempotencyKey))
	h.Write([]byte(subject))
	h.Write([]byte(r.URL.Path))
	if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		h.Write(body)
	}
	return fmt.Sprintf("%s%s", im.prefix, hex.EncodeToString(h.Sum(nil))[:32])
}

func (im *IdempotencyMiddleware) getCachedResult(ctx context.Context, key string) (*IdempotencyResult, error) {
	data, err := im.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var result IdempotencyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (im *IdempotencyMiddleware) cacheResult(ctx context.Context, key string, result *IdempotencyResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return im.redis.Set(ctx, key, data, im.ttl).Err()
}
