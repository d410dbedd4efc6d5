package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/types"
)

const (
	// DefaultRetryAttempts bounds how many times a transient ledger
	// failure is retried before surfacing.
	DefaultRetryAttempts = 3
	// DefaultRetryBackoff is the initial backoff, doubled per attempt.
	DefaultRetryBackoff = 250 * time.Millisecond
)

// Retry runs fn, retrying only types.ErrLedgerUnavailable with exponential
// backoff, up to attempts tries. Every other error surfaces immediately:
// structural and cryptographic failures cannot be fixed by retrying.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrLedgerUnavailable) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		log.Debugw("ledger unavailable, retrying", "attempt", attempt+1, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
