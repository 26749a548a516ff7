package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/llm"
	"github.com/farmwise/farmwise/go/orchestrator/internal/weather"
	"github.com/farmwise/farmwise/go/orchestrator/internal/whatsapp"
)

// NonRetryable marks err so that the engine fails the activity at once.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), constants.ErrorTypeNonRetryable, err)
}

// Transient marks err as worth retrying within the caller's retry policy.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return temporal.NewApplicationError(err.Error(), constants.ErrorTypeTransient, err)
}

// classify maps provider and store failures onto NonRetryable or Transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}

	var waErr *whatsapp.APIError
	var wxErr *weather.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(err)
	case errors.Is(err, db.ErrNotFound),
		errors.Is(err, weather.ErrNotFound),
		errors.Is(err, weather.ErrMalformed),
		errors.Is(err, whatsapp.ErrMalformedResponse),
		errors.Is(err, llm.ErrMalformed):
		return NonRetryable(err)
	case errors.As(err, &waErr):
		if waErr.Temporary() {
			return Transient(err)
		}
		return NonRetryable(err)
	case errors.As(err, &wxErr):
		if wxErr.Temporary() {
			return Transient(err)
		}
		return NonRetryable(err)
	case !llm.IsTemporary(err):
		return NonRetryable(err)
	}
	return Transient(err)
}
