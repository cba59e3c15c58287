package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    prompt      TEXT         NOT NULL,
    response    TEXT         NOT NULL,
    at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_at
    ON exchanges (session_id, at);
`

// PostgresStore is a [Store] backed by a PostgreSQL exchanges table.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore establishes a connection pool to dsn and ensures the
// exchanges table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlExchanges); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// WriteExchange implements [Store].
func (s *PostgresStore) WriteExchange(ctx context.Context, ex Exchange) error {
	const q = `
		INSERT INTO exchanges (session_id, prompt, response, at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, ex.SessionID, ex.Prompt, ex.Response, ex.At)
	if err != nil {
		return fmt.Errorf("history: write exchange: %w", err)
	}
	return nil
}

// RecentExchanges implements [Store]. The query selects the newest rows and
// the result is re-ordered chronologically before returning.
func (s *PostgresStore) RecentExchanges(ctx context.Context, sessionID string, limit int) ([]Exchange, error) {
	q := `
		SELECT session_id, prompt, response, at
		FROM   exchanges
		WHERE  session_id = $1
		ORDER  BY at DESC`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: recent exchanges: %w", err)
	}
	exchanges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Exchange, error) {
		var e Exchange
		err := row.Scan(&e.SessionID, &e.Prompt, &e.Response, &e.At)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}

	// Oldest first.
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	if exchanges == nil {
		exchanges = []Exchange{}
	}
	return exchanges, nil
}

// Ping verifies the pool's connection to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
