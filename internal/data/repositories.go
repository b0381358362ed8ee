package data

import (
	"context"
	"database/sql"
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Models bundles the repositories handed to services.
type Models struct {
	Inspections InspectionModel
}

func NewModels(db DBTX) Models {
	return Models{
		Inspections: InspectionModel{DB: db},
	}
}
