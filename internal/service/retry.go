package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/google/uuid"
)

// RetryingWriter wraps the store upsert with a bounded backoff. Each attempt
// is itself a full idempotent upsert, so repeating one never leaves partial
// state behind. Classification happens here, once; callers upstream never
// re-interpret error kinds.
type RetryingWriter struct {
	store    domain.ResponseRepository
	attempts int
	base     time.Duration

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryingWriter(store domain.ResponseRepository, attempts int, base time.Duration) *RetryingWriter {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingWriter{
		store:    store,
		attempts: attempts,
		base:     base,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// nonRetryable lists the known failure categories that must never be
// retried: authorization, group isolation, validation, integrity. Everything
// else (timeouts, connection drops, unclassified infra errors) is treated as
// transient and retried within the budget.
func nonRetryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotGroupMember),
		errors.Is(err, domain.ErrGroupScopeRequired),
		errors.Is(err, domain.ErrInvalidDecision),
		errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrEventNotInGroup),
		errors.Is(err, domain.ErrConstraintViolation),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

// Write attempts the upsert up to the configured budget with delays of
// base*2^(attempt-1) between attempts (100ms, 200ms, 400ms at defaults).
// Non-retryable errors pass through untouched; an exhausted budget surfaces
// as ErrRetriesExhausted wrapping the last transient failure.
func (w *RetryingWriter) Write(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID, decision domain.Decision) error {
	var lastErr error
	delay := w.base

	for attempt := 1; attempt <= w.attempts; attempt++ {
		err := w.store.UpsertResponse(ctx, groupID, eventID, dateID, memberID, decision)
		if err == nil {
			return nil
		}
		if nonRetryable(err) {
			return err
		}

		lastErr = err
		if attempt == w.attempts {
			break
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}

	return fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, lastErr)
}
