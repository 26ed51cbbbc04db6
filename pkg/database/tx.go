package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Transactor runs repository calls that must commit or roll back together.
type Transactor struct {
	db *sqlx.DB
}

// NewTransactor wraps db.
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx commits when fn succeeds and rolls back otherwise. Errors from fn are returned as is.
func (t *Transactor) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
