package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"csrf-guard/internal/tokens"
)

const queryTimeout = 5 * time.Second

// TokenStore keeps token pairs in the csrf_tokens table. Insertion order is
// the seq column; an overwrite leaves seq untouched.
type TokenStore struct {
	DB  *DB
	DSN string
}

func NewTokenStore(db *DB, dsn string) *TokenStore {
	return &TokenStore{DB: db, DSN: dsn}
}

func (s *TokenStore) conn(ctx context.Context) (*sql.DB, context.Context, context.CancelFunc, error) {
	db, err := s.DB.Get(s.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, queryTimeout)
	return db, cctx, cancel, nil
}

func (s *TokenStore) Set(ctx context.Context, name, secret string) error {
	db, cctx, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = db.ExecContext(cctx,
		`INSERT INTO csrf_tokens (name, secret) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET secret = EXCLUDED.secret`,
		name, secret)
	return err
}

func (s *TokenStore) Get(ctx context.Context, name string) (string, bool, error) {
	db, cctx, cancel, err := s.conn(ctx)
	if err != nil {
		return "", false, err
	}
	defer cancel()

	var secret string
	err = db.QueryRowContext(cctx, `SELECT secret FROM csrf_tokens WHERE name = $1`, name).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}

func (s *TokenStore) Remove(ctx context.Context, name string) error {
	db, cctx, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = db.ExecContext(cctx, `DELETE FROM csrf_tokens WHERE name = $1`, name)
	return err
}

func (s *TokenStore) Count(ctx context.Context) (int, error) {
	db, cctx, cancel, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	var n int
	if err := db.QueryRowContext(cctx, `SELECT COUNT(*) FROM csrf_tokens`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *TokenStore) LastPair(ctx context.Context) (tokens.Pair, bool, error) {
	db, cctx, cancel, err := s.conn(ctx)
	if err != nil {
		return tokens.Pair{}, false, err
	}
	defer cancel()

	var p tokens.Pair
	err = db.QueryRowContext(cctx,
		`SELECT name, secret FROM csrf_tokens ORDER BY seq DESC LIMIT 1`).Scan(&p.Name, &p.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return tokens.Pair{}, false, nil
	}
	if err != nil {
		return tokens.Pair{}, false, err
	}
	return p, true, nil
}

// Trim deletes everything but the limit most recent rows. limit <= 0 is a no-op.
func (s *TokenStore) Trim(ctx context.Context, limit int) error {
	if limit <= 0 {
		return nil
	}
	db, cctx, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = db.ExecContext(cctx,
		`DELETE FROM csrf_tokens WHERE seq NOT IN
		 (SELECT seq FROM csrf_tokens ORDER BY seq DESC LIMIT $1)`,
		limit)
	return err
}

// compile-time check
var _ tokens.Store = (*TokenStore)(nil)
