package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper sends requests through a breaker. 5xx and 429 responses count
// as failures for the breaker but are still returned to the caller.
type HTTPWrapper struct {
	client *http.Client
	cb     *Breaker
}

// NewHTTPWrapper wraps client for the named remote API (whatsapp, wttr, farmbase).
func NewHTTPWrapper(client *http.Client, name string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cb := New(name, "http", SettingsFor(KindHTTP), logger).
		WithFailureClassifier(func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return true
			}
			return defaultFailure(err)
		})
	return &HTTPWrapper{client: client, cb: cb}
}

func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Do(req.Context(), func(context.Context) error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	var se *statusError
	if errors.As(err, &se) {
		return resp, nil
	}
	return resp, err
}

func (hw *HTTPWrapper) Breaker() *Breaker {
	return hw.cb
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
