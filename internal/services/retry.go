package services

import (
	"context"
	"log"
	"time"
)

// RetryPolicy controls the rate-limit retry loop shared by all four
// generation capabilities. Only rate-limit errors are retried; every other
// error class breaks the loop on first occurrence.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Label       string // log tag, e.g. "story" or "image"
}

// sleepFunc lets tests replace the backoff sleep with a recorder.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry runs op up to policy.MaxAttempts times, sleeping policy.Backoff
// between attempts that fail with KindRateLimited. On exhausting the attempt
// cap the last rate-limit error is surfaced with a billing/quota hint.
func withRetry(ctx context.Context, policy RetryPolicy, sleep sleepFunc, op func() error) error {
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		if !IsKind(err, KindRateLimited) {
			return err
		}

		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}

		log.Printf("[Retry] %s rate limited (attempt %d/%d), backing off %v",
			policy.Label, attempt, policy.MaxAttempts, policy.Backoff)
		if serr := sleep(ctx, policy.Backoff); serr != nil {
			return WrapGenError(KindTransport, serr, "%s backoff interrupted", policy.Label)
		}
	}

	return WrapGenError(KindRateLimited, lastErr,
		"%s still rate limited after %d attempts — check your plan's billing and quota",
		policy.Label, policy.MaxAttempts)
}
