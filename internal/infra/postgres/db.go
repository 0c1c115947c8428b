package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type DB struct {
	mu  sync.Mutex
	dsn string
	db  *sql.DB
}

func NewDB() *DB {
	return &DB{}
}

// Wrap binds an already opened pool to dsn so Get(dsn) returns it.
func Wrap(db *sql.DB, dsn string) *DB {
	return &DB{db: db, dsn: dsn}
}

// Get returns the pool for dsn, reopening it when the dsn changed.
func (p *DB) Get(dsn string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil && p.dsn == dsn {
		return p.db, nil
	}
	if p.db != nil {
		_ = p.db.Close()
		p.db = nil
		p.dsn = ""
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	p.db = db
	p.dsn = dsn
	return db, nil
}

func (p *DB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	p.dsn = ""
	return err
}

const schema = `CREATE TABLE IF NOT EXISTS csrf_tokens (
	name   TEXT PRIMARY KEY,
	secret TEXT NOT NULL,
	seq    BIGSERIAL NOT NULL
)`

// EnsureSchema creates the token table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(cctx, schema); err != nil {
		return fmt.Errorf("csrf_tokens schema setup failed: %w", err)
	}
	return nil
}
