package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/port"
)

// MySQL server error numbers the adapter reacts to.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

const defaultMaxTxAttempts = 3

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)
var _ port.ProductRepository = (*MySQLAdapter)(nil)
var _ port.UserRepository = (*MySQLAdapter)(nil)

type MySQLAdapter struct {
	db            *sql.DB
	maxTxAttempts int
	retryBackoff  time.Duration
	logger        *zap.Logger
}

type MySQLOption func(*MySQLAdapter)

// WithMaxTxAttempts bounds how often a transaction is re-run after a deadlock
// or lock wait timeout.
func WithMaxTxAttempts(n int) MySQLOption {
	return func(m *MySQLAdapter) {
		if n > 0 {
			m.maxTxAttempts = n
		}
	}
}

func WithRetryBackoff(d time.Duration) MySQLOption {
	return func(m *MySQLAdapter) {
		m.retryBackoff = d
	}
}

func WithLogger(logger *zap.Logger) MySQLOption {
	return func(m *MySQLAdapter) {
		m.logger = logger
	}
}

func NewMySQLAdapter(db *sql.DB, opts ...MySQLOption) *MySQLAdapter {
	m := &MySQLAdapter{
		db:            db,
		maxTxAttempts: defaultMaxTxAttempts,
		retryBackoff:  10 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithinTx runs fn in a transaction and re-runs the whole unit when MySQL
// aborts it with a deadlock or lock wait timeout.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.OrderTx) error) error {
	var err error
	for attempt := 1; attempt <= m.maxTxAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt == m.maxTxAttempts {
			return err
		}

		m.logger.Warn("Retrying transaction after lock conflict",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (after %v)", ctx.Err(), err)
		case <-time.After(m.retryBackoff * time.Duration(attempt)):
		}
	}
	return err
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(ctx context.Context, tx port.OrderTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlOrderTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == errDeadlock || myErr.Number == errLockWaitTimeout
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
