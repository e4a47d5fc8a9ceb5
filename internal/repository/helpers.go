package repository

import (
	"context"
	"database/sql"

	"github.com/maheshrc27/postqueue/internal/database"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn picks the transaction when one is given, the pool otherwise.
func conn(db *database.DB, tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return db.DB
}

type scanner interface {
	Scan(dest ...any) error
}
