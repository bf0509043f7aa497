package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Postgres SQLSTATE codes inspected by callers.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
)

// TxFunc runs inside a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// TxManager runs units of work in a transaction, retrying on serialization
// failures and deadlocks.
type TxManager struct {
	db         *sqlx.DB
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewTxManager builds a transaction manager over db.
func NewTxManager(db *sqlx.DB, maxRetries int, logger *zap.Logger) *TxManager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TxManager{db: db, maxRetries: maxRetries, backoff: 25 * time.Millisecond, logger: logger}
}

// WithinTx executes fn in a fresh transaction and commits on success.
func (m *TxManager) WithinTx(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		err = m.run(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		m.logger.Warn("transaction retry", zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff * time.Duration(attempt+1)):
		}
	}
	return err
}

func (m *TxManager) run(ctx context.Context, fn TxFunc) (err error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient serialization or deadlock error.
func IsRetryable(err error) bool {
	code := pqCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsExclusionViolation reports whether err came from an exclusion constraint.
func IsExclusionViolation(err error) bool {
	return pqCode(err) == codeExclusionViolation
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	return pqCode(err) == codeUniqueViolation
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
