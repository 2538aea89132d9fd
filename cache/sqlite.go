package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/hal9ai/dspy/llm"
	"github.com/hal9ai/dspy/migrations"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

const responsesTable = "responses"

// SQLiteStore is a PersistentTier backed by a SQLite database file.
// Entries never expire.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the cache database at path and migrates it.
func OpenSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	logger.Info().Str("path", path).Msg("Opened persistent response cache")
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps a database whose schema is already migrated.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get implements Tier.Get.
func (s *SQLiteStore) Get(ctx context.Context, req llm.NormalizedRequest) (*llm.RawResponse, bool, error) {
	queryStr, args, err := sq.Select("response").
		From(responsesTable).
		Where(sq.Eq{"key": req.Key()}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build query: %w", err)
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cached response: %w", err)
	}

	resp, err := llm.UnmarshalRawResponse(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

// Put implements Tier.Put.
func (s *SQLiteStore) Put(ctx context.Context, req llm.NormalizedRequest, resp *llm.RawResponse) error {
	data, err := resp.Marshal()
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	queryStr, args, err := sq.Replace(responsesTable).
		Columns("key", "mode", "payload", "response", "created_at").
		Values(req.Key(), string(req.Mode), req.Payload, data, time.Now().Unix()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	return nil
}

// Count returns the number of stored responses.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	queryStr, args, err := sq.Select("COUNT(*)").From(responsesTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}

// Clear implements PersistentTier.Clear.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	queryStr, args, err := sq.Delete(responsesTable).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("clear responses: %w", err)
	}
	return nil
}

// Close implements PersistentTier.Close.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ PersistentTier = (*SQLiteStore)(nil)
