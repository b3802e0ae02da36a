// Package catalog keeps the summary records of every run in a SQL table,
// backed by SQLite (a file path) or Postgres (a postgres:// DSN).
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/tikz/gcreplay/summary"
)

// Table is the name of the catalog table.
const Table = "dmsviz_summary"

// Dialect is the SQL flavour of the underlying database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var schema = `CREATE TABLE IF NOT EXISTS ` + Table + ` (
	run_id TEXT NOT NULL,
	dmsviz_filepath TEXT NOT NULL,
	pdb_filepath TEXT NOT NULL,
	pdbid TEXT NOT NULL,
	chainid TEXT NOT NULL,
	metricid TEXT NOT NULL,
	metric_full_name TEXT NOT NULL,
	description TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, dmsviz_filepath)
)`

// Catalog is an open catalog database.
type Catalog struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn and creates the catalog table if needed.
func Open(ctx context.Context, dsn string) (*Catalog, error) {
	dialect := DialectOf(dsn)

	var db *sql.DB
	var err error
	switch dialect {
	case Postgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
	default:
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s table: %w", Table, err)
	}
	return &Catalog{db: db, dialect: dialect}, nil
}

// DialectOf tells which database a DSN points to.
func DialectOf(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Dialect returns the SQL flavour in use.
func (c *Catalog) Dialect() Dialect { return c.dialect }

// DB exposes the underlying sql.DB.
func (c *Catalog) DB() *sql.DB { return c.db }

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) upsertQuery() string {
	cols := []string{"run_id", "dmsviz_filepath", "pdb_filepath", "pdbid", "chainid", "metricid", "metric_full_name", "description", "recorded_at"}
	marks := make([]string, len(cols))
	for i := range cols {
		if c.dialect == Postgres {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
	}
	var updates []string
	for _, col := range cols[2:] {
		updates = append(updates, col+"=excluded."+col)
	}
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s) ON CONFLICT(run_id, dmsviz_filepath) DO UPDATE SET %s",
		Table, strings.Join(cols, ","), strings.Join(marks, ","), strings.Join(updates, ","))
}

// Record upserts records under runID in a single transaction. Recording the
// same records twice leaves one row per dms-viz file.
func (c *Catalog) Record(ctx context.Context, runID string, records []summary.Record) (retErr error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	query := c.upsertQuery()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query, runID, r.DMSVizFile, r.PDBFile, r.PDBID, r.ChainID,
			r.MetricID, r.MetricFullName, r.Description, now); err != nil {
			return fmt.Errorf("upsert %s: %w", r.DMSVizFile, err)
		}
	}
	return tx.Commit()
}

// Records returns the records stored for runID, ordered by dms-viz file.
func (c *Catalog) Records(ctx context.Context, runID string) ([]summary.Record, error) {
	query := "SELECT dmsviz_filepath, pdb_filepath, pdbid, chainid, metricid, metric_full_name, description FROM " +
		Table + " WHERE run_id = ? ORDER BY dmsviz_filepath"
	if c.dialect == Postgres {
		query = strings.Replace(query, "?", "$1", 1)
	}
	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", Table, err)
	}
	defer func() { _ = rows.Close() }()

	var records []summary.Record
	for rows.Next() {
		var r summary.Record
		if err := rows.Scan(&r.DMSVizFile, &r.PDBFile, &r.PDBID, &r.ChainID, &r.MetricID, &r.MetricFullName, &r.Description); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
