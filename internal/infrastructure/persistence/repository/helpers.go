package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/civicworks/budget-backend/internal/domain/apperr"
	"github.com/civicworks/budget-backend/pkg/database"
)

// executor abstracts *sql.DB and *sql.Tx so repositories join a transaction
// carried on the context.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// getExecutor returns the context transaction if present, the pool otherwise.
func getExecutor(ctx context.Context, db *sql.DB) executor {
	if tx, ok := database.TxFrom(ctx); ok {
		return tx
	}
	return db
}

var centsFactor = decimal.NewFromInt(100)

// toCents converts a 2-decimal amount to integer cents for storage.
func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(centsFactor).Round(0).IntPart()
}

// fromCents converts stored integer cents back to a decimal amount.
func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// mapSQLiteError translates driver errors into the domain taxonomy so no raw
// storage detail leaks past the repository layer.
func mapSQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return apperr.ErrConflict
		case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
			return apperr.ErrContention
		}
	}
	return nil
}
