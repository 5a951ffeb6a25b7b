package db

import (
	"context"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TxManager scopes units of work to transactions and retries transient
// persistence failures with backoff.
type TxManager struct {
	pool *pgxpool.Pool

	maxRetries  int
	retryDelay  time.Duration
	exponential bool

	log *logrus.Entry
}

// NewTxManager creates a transaction manager over the store's pool.
func NewTxManager(pool *pgxpool.Pool, maxRetries int, retryDelay time.Duration, exponential bool) *TxManager {
	return &TxManager{
		pool:        pool,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		exponential: exponential,
		log:         logrus.WithField("component", "txmanager"),
	}
}

// WithTransaction runs fn inside a transaction named for logging. The
// transaction is rolled back when fn errors, so one file's failure never
// leaves partial writes behind. When composed under an outer transaction,
// pgx turns the nested begin into a savepoint.
func (t *TxManager) WithTransaction(ctx context.Context, name string, fn func(tx pgx.Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return errors.Wrapf(err, "beginning transaction %q", name)
	}

	t.log.WithField("tx", name).Debug("starting transaction")

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			t.log.WithError(rbErr).WithField("tx", name).Error("rollback failed")
		}
		t.log.WithError(err).WithField("tx", name).Error("rolling back transaction")
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrapf(err, "committing transaction %q", name)
	}
	t.log.WithField("tx", name).Debug("committed transaction")
	return nil
}

// WithRetry runs fn, retrying transient failures up to the configured
// maximum with fixed or exponential backoff. The final error is returned
// after exhaustion; non-transient errors return immediately.
func (t *TxManager) WithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.retryDelay
			if t.exponential {
				delay = t.retryDelay * (1 << (attempt - 1))
			}
			t.log.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
			}).Warn("retrying operation")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				t.log.WithFields(logrus.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}

		if !IsRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	t.log.WithError(lastErr).WithFields(logrus.Fields{
		"operation": operation,
		"attempts":  t.maxRetries + 1,
	}).Error("operation failed after all retries")
	return errors.Wrapf(lastErr, "%s failed after %d attempts", operation, t.maxRetries+1)
}

// Transient Postgres error classes and codes: connection failures,
// serialization failures, deadlocks, lock timeouts, admin shutdown.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

// IsRetryable classifies an error as a transient persistence failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if retryableCodes[pgErr.Code] {
			return true
		}
		// Connection-exception class.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return pgconn.SafeToRetry(err)
}
