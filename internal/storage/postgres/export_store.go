// Package postgres persists export records in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webannotate/internal/webview"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable receives export records when no table is configured.
const DefaultTable = "exports"

// ExportStoreConfig controls the Postgres connection pool.
type ExportStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ExportStore writes export records into Postgres.
type ExportStore struct {
	pool  execCloser
	table string
}

// NewExportStore connects a pool using cfg.
func NewExportStore(ctx context.Context, cfg ExportStoreConfig) (*ExportStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ExportStore{pool: pool, table: table}, nil
}

// NewExportStoreWithPool constructs a store from an existing pool.
func NewExportStoreWithPool(pool execCloser, table string) (*ExportStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ExportStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ExportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreExport inserts one export record.
func (s *ExportStore) StoreExport(ctx context.Context, record webview.ExportRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("export store is not configured")
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source_url,
	filename,
	size_bytes,
	page_width,
	page_height,
	handle_uri,
	saved_to,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)

	args := []any{
		record.ID,
		record.SourceURL.String(),
		record.Filename,
		record.SizeBytes,
		record.Width,
		record.Height,
		record.HandleURI,
		nullable(record.SavedTo),
		record.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
