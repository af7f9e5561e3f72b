package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// RetryableCodes are the S3 error codes treated as transient.
var RetryableCodes = map[string]bool{
	"NoSuchKey":           true,
	"SlowDown":            true,
	"InternalError":       true,
	"RequestTimeout":      true,
	"ThrottlingException": true,
}

// Retrying wraps a Store and retries transient failures a fixed number of
// times with a fixed delay.
type Retrying struct {
	store    Store
	attempts int
	delay    time.Duration
	logger   zerolog.Logger
}

// NewRetrying wraps store. attempts below 1 is treated as 1.
func NewRetrying(store Store, attempts int, delay time.Duration, logger zerolog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{store: store, attempts: attempts, delay: delay, logger: logger}
}

// IsRetryable reports whether err is a transient storage error. A missing
// object counts, since freshly written objects can take a moment to appear.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return RetryableCodes[apiErr.ErrorCode()]
	}
	return errors.Is(err, ErrBlobNotFound)
}

// Get retries store.Get.
func (r *Retrying) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "get", key, func() error {
		var err error
		data, err = r.store.Get(ctx, bucket, key)
		return err
	})
	return data, err
}

// Put retries store.Put.
func (r *Retrying) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	return r.do(ctx, "put", key, func() error {
		return r.store.Put(ctx, bucket, key, body, contentType)
	})
}

func (r *Retrying) do(ctx context.Context, op, key string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == r.attempts {
			break
		}
		r.logger.Warn().
			Str("op", op).
			Str("key", key).
			Int("attempt", attempt).
			Err(err).
			Msg("transient storage error, retrying")

		t := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %s %s after %d attempts: %w", ErrRetriesExhausted, op, key, r.attempts, err)
}
