// Package postgres reads coach content chunks from PostgreSQL using
// full-text search.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sweetpotato0/coach-qa/config"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/rag/document"
)

// Store implements retriever.Store on a chunk table with columns
// id, coach_id, source_id, text, keywords (text[]) and created_at.
type Store struct {
	db     *sql.DB
	search string
	recent string
}

// Open connects using cfg and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	if err := config.ValidatePostgresConfig(cfg.Host, cfg.Port, cfg.User, cfg.DBName, cfg.SSLMode); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return New(db, cfg.Table), nil
}

// New wraps an open database handle.
func New(db *sql.DB, table string) *Store {
	if table == "" {
		table = "content_chunks"
	}
	search, recent := queries(table)
	return &Store{db: db, search: search, recent: recent}
}

// DSN renders a lib/pq connection string.
func DSN(cfg config.PostgresConfig) string {
	parts := []string{
		"host=" + quoteValue(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + quoteValue(cfg.User),
		"dbname=" + quoteValue(cfg.DBName),
		"sslmode=" + quoteValue(cfg.SSLMode),
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteValue(cfg.Password))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func queries(table string) (search, recent string) {
	t := pq.QuoteIdentifier(table)
	const cols = `id, coach_id, source_id, text, keywords, created_at`
	search = `SELECT ` + cols + `
	FROM ` + t + `
	WHERE coach_id = $1
	  AND to_tsvector('english', text || ' ' || array_to_string(keywords, ' ')) @@ plainto_tsquery('english', $2)
	ORDER BY ts_rank(to_tsvector('english', text || ' ' || array_to_string(keywords, ' ')), plainto_tsquery('english', $2)) DESC,
	         created_at DESC, id
	LIMIT $3`
	recent = `SELECT ` + cols + `
	FROM ` + t + `
	WHERE coach_id = $1
	ORDER BY created_at DESC, id
	LIMIT $2`
	return search, recent
}

// GetChunks implements retriever.Store. Filtering by coach happens in SQL.
func (s *Store) GetChunks(ctx context.Context, coachID, query string, limit int) ([]document.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(query) == "" {
		rows, err = s.db.QueryContext(ctx, s.recent, coachID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.search, coachID, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query chunks: %v", errors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []document.Chunk
	for rows.Next() {
		var (
			c        document.Chunk
			sourceID sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.CoachID, &sourceID, &c.Text, pq.Array(&c.Keywords), &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", errors.ErrStoreUnavailable, err)
		}
		c.SourceID = sourceID.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate chunks: %v", errors.ErrStoreUnavailable, err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
