// Package migrations applies the embedded schema for the tables the scheduler owns.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed *.sql
var files embed.FS

const (
	createTrackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations_exam_scheduler (
	filename text PRIMARY KEY,
	applied_at timestamptz NOT NULL DEFAULT now()
)`
	appliedQuery = `SELECT EXISTS (SELECT 1 FROM schema_migrations_exam_scheduler WHERE filename = $1)`
	recordQuery  = `INSERT INTO schema_migrations_exam_scheduler (filename) VALUES ($1) ON CONFLICT (filename) DO NOTHING`
)

// Up applies every embedded migration that has not been recorded yet, in file
// name order. It returns the names it applied.
func Up(ctx context.Context, db *sqlx.DB) ([]string, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, createTrackingTable); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list embedded migrations: %w", err)
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		var done bool
		if err := db.GetContext(ctx, &done, appliedQuery, name); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if done {
			continue
		}
		if err := apply(ctx, db, name); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func apply(ctx context.Context, db *sqlx.DB, name string) (err error) {
	body, err := files.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		if !alreadyApplied(err) {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		_ = tx.Rollback()
		if _, err = db.ExecContext(ctx, recordQuery, name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		return nil
	}
	if _, err = tx.ExecContext(ctx, recordQuery, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// alreadyApplied reports errors raised when the objects exist from a schema
// created before the tracking table.
func alreadyApplied(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "42P07", // duplicate_table
		"42710", // duplicate_object
		"42701": // duplicate_column
		return true
	}
	return false
}
