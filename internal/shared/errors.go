// Package shared provides cross-cutting helpers used across the codebase:
// error classification, retries and per-key locking.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"
)

// Every component reports failures through one tagged-kind contract built on
// errdefs sentinels. Callers classify with errors.Is / the predicates below
// instead of matching strings.
//
//	transient infra   -> errdefs.ErrUnavailable
//	rate limited      -> errdefs.ErrResourceExhausted
//	schedule conflict -> errdefs.ErrConflict
//	bad configuration -> errdefs.ErrInvalidArgument
//	missing record    -> errdefs.ErrNotFound

// Transient wraps err as a transient infrastructure failure (cache, store or
// network) that is safe to retry.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errdefs.ErrUnavailable, err)
}

// RateLimited wraps err as downstream rate-limit pushback. Retryable, but
// only after backing off.
func RateLimited(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errdefs.ErrResourceExhausted, err)
}

// Conflict wraps err as a lost claim race (two dispatch sweeps contending for
// the same due entry). Surfaced as a counter, never a crash.
func Conflict(op string) error {
	return fmt.Errorf("%s: %w", op, errdefs.ErrConflict)
}

// IsTransient reports whether err is a retryable infrastructure failure.
func IsTransient(err error) bool {
	return errdefs.IsUnavailable(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		IsSQLiteConflictError(err)
}

// IsRateLimited reports whether err is a limiter rejection.
func IsRateLimited(err error) bool {
	return errdefs.IsResourceExhausted(err)
}

// IsConflict reports whether err is a lost optimistic claim.
func IsConflict(err error) bool {
	return errdefs.IsConflict(err)
}

// IsNotFound reports whether err marks a missing record.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// Retry runs fn up to attempts times with exponential backoff, retrying only
// transient failures and rate-limit pushback. The final error is returned
// unwrapped so callers keep its kind.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) && !IsRateLimited(err) {
			return err
		}
		if i < attempts-1 {
			delay := baseDelay * time.Duration(1<<i)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports either SQLite concurrency error; both warrant
// retry logic.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
