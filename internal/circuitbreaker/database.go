package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper guards the farmbase database. sql.ErrNoRows is not a failure.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *Breaker
}

func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := New("farmbase", db.DriverName(), SettingsFor(KindDatabase), logger).
		WithFailureClassifier(func(err error) bool {
			return defaultFailure(err) && !errors.Is(err, sql.ErrNoRows)
		})
	return &DatabaseWrapper{db: db, cb: cb}
}

func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.cb.Do(ctx, func(ctx context.Context) error {
		return dw.db.PingContext(ctx)
	})
}

func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dw.cb.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = dw.db.ExecContext(ctx, dw.db.Rebind(query), args...)
		return err
	})
	return res, err
}

// GetContext scans a single row into dest.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.cb.Do(ctx, func(ctx context.Context) error {
		return dw.db.GetContext(ctx, dest, dw.db.Rebind(query), args...)
	})
}

// SelectContext scans all rows into dest.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.cb.Do(ctx, func(ctx context.Context) error {
		return dw.db.SelectContext(ctx, dest, dw.db.Rebind(query), args...)
	})
}

func (dw *DatabaseWrapper) DriverName() string {
	return dw.db.DriverName()
}

func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

func (dw *DatabaseWrapper) Breaker() *Breaker {
	return dw.cb
}
