package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	actor_kind    TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	actor_id      TEXT NOT NULL DEFAULT '',
	actor_name    TEXT NOT NULL DEFAULT '',
	has_identity  INTEGER NOT NULL DEFAULT 0,
	updated_at    TEXT NOT NULL
);`

const opTimeout = 5 * time.Second

// SQLite persists credentials in a single-table SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the credentials database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create credentials table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Get(kind ActorKind) (TokenPair, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var pair TokenPair
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token FROM credentials WHERE actor_kind = ?`, string(kind),
	).Scan(&pair.AccessToken, &pair.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return TokenPair{}, false
	}
	if err != nil {
		log.Printf("tokenstore: sqlite get %s: %v", kind, err)
		return TokenPair{}, false
	}
	if pair.IsZero() {
		return TokenPair{}, false
	}
	return pair, true
}

func (s *SQLite) Set(kind ActorKind, pair TokenPair) {
	if pair.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (actor_kind, access_token, refresh_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(actor_kind) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at`,
		string(kind), pair.AccessToken, pair.RefreshToken, now())
	if err != nil {
		log.Printf("tokenstore: sqlite set %s: %v", kind, err)
	}
}

func (s *SQLite) Identity(kind ActorKind) (Identity, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var id Identity
	var has int
	err := s.db.QueryRowContext(ctx,
		`SELECT actor_id, actor_name, has_identity FROM credentials WHERE actor_kind = ?`, string(kind),
	).Scan(&id.ActorID, &id.ActorName, &has)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, false
	}
	if err != nil {
		log.Printf("tokenstore: sqlite identity %s: %v", kind, err)
		return Identity{}, false
	}
	return id, has == 1
}

func (s *SQLite) SetIdentity(kind ActorKind, id Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (actor_kind, actor_id, actor_name, has_identity, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(actor_kind) DO UPDATE SET
			actor_id = excluded.actor_id,
			actor_name = excluded.actor_name,
			has_identity = 1,
			updated_at = excluded.updated_at`,
		string(kind), id.ActorID, id.ActorName, now())
	if err != nil {
		log.Printf("tokenstore: sqlite set identity %s: %v", kind, err)
	}
}

func (s *SQLite) Clear(kind ActorKind) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE actor_kind = ?`, string(kind)); err != nil {
		log.Printf("tokenstore: sqlite clear %s: %v", kind, err)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
