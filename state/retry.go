package state

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hupe1980/agenthub/core"
)

// UpdateFunc computes the updates to apply given the freshly read
// snapshot. Returning nil updates commits nothing and ends the retry
// loop successfully at the snapshot's version.
type UpdateFunc func(snap core.Snapshot) (map[string]any, error)

// RetryOptions tunes the conflict retry loop of WriteWithRetry.
type RetryOptions struct {
	// MaxRetries bounds the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry; each subsequent
	// retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// Jitter adds up to 20% random variance to each delay.
	Jitter bool
}

// DefaultRetryOptions provides reasonable defaults for state write retries.
var DefaultRetryOptions = RetryOptions{
	MaxRetries: 3,
	BaseDelay:  25 * time.Millisecond,
	MaxDelay:   1 * time.Second,
	Jitter:     true,
}

// WriteWithRetry composes read, compute and write against any
// core.StateStore, retrying on version conflicts with exponential
// backoff. Of two racing writers exactly one commits per version; the
// loser re-reads and recomputes from the fresh snapshot. After
// exhausting retries the last conflict is surfaced wrapped.
func WriteWithRetry(ctx context.Context, store core.StateStore, scope string, fn UpdateFunc, optFns ...func(o *RetryOptions)) (int64, error) {
	opts := DefaultRetryOptions
	for _, f := range optFns {
		f(&opts)
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoffDelay(opts, attempt)):
			}
		}

		snap, err := store.Read(ctx, scope)
		if err != nil {
			return 0, err
		}
		updates, err := fn(snap)
		if err != nil {
			return 0, err
		}
		if updates == nil {
			return snap.Version, nil
		}

		version, err := store.Write(ctx, scope, updates, snap.Version)
		if err == nil {
			return version, nil
		}
		if !core.IsConflict(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("write to scope %q failed after %d retries: %w", scope, opts.MaxRetries, lastErr)
}

func backoffDelay(opts RetryOptions, attempt int) time.Duration {
	delay := opts.BaseDelay
	// Doubling per attempt; stop once past the cap so large attempt
	// counts cannot overflow the shift.
	for i := 1; i < attempt; i++ {
		delay <<= 1
		if delay <= 0 || (opts.MaxDelay > 0 && delay >= opts.MaxDelay) {
			delay = opts.MaxDelay
			break
		}
	}
	if opts.MaxDelay > 0 && delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	if opts.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/5 + 1))
	}
	return delay
}
