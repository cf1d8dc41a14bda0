package recordstore

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryMaxAttempts and RetryBaseDelay bound Retry's Fibonacci backoff.
var (
	RetryMaxAttempts uint64 = 5
	RetryBaseDelay          = 100 * time.Millisecond
)

// Retry executes task with Fibonacci backoff up to RetryMaxAttempts retries.
// Only errors wrapped via retry.RetryableError are retried.
func Retry(ctx context.Context, task func(ctx context.Context) error) error {
	b := retry.NewFibonacci(RetryBaseDelay)
	if err := retry.Do(ctx, retry.WithMaxRetries(RetryMaxAttempts, b), task); err != nil {
		log.Warn("file I/O gave up after retries", "error", err)
		return err
	}
	return nil
}

// ShouldRetry reports whether a file I/O error may go away on its own. Anything that maps to
// a store open cause (missing file, permission, bad format) is permanent, as are full disks
// and malformed requests.
func ShouldRetry(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		ClassifyIOError(err, Unknown) != Unknown:
		return false
	case errors.Is(err, os.ErrClosed),
		errors.Is(err, os.ErrExist),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EINVAL),
		errors.Is(err, syscall.EISDIR),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.ENAMETOOLONG):
		return false
	}
	return true
}
