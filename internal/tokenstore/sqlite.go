package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teemow/slotfinder/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	identity      TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry_ms     INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL
)`

// The ON CONFLICT clause performs the merge inside one statement.
const sqliteUpsert = `
INSERT INTO credentials (identity, access_token, refresh_token, token_type, expiry_ms, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(identity) DO UPDATE SET
	access_token  = CASE WHEN excluded.access_token  <> '' THEN excluded.access_token  ELSE credentials.access_token  END,
	refresh_token = CASE WHEN excluded.refresh_token <> '' THEN excluded.refresh_token ELSE credentials.refresh_token END,
	token_type    = CASE WHEN excluded.token_type    <> '' THEN excluded.token_type    ELSE credentials.token_type    END,
	expiry_ms     = CASE WHEN excluded.expiry_ms     <> 0  THEN excluded.expiry_ms     ELSE credentials.expiry_ms     END,
	updated_at    = excluded.updated_at`

// SQLiteStore keeps credentials in a local SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string, sealer *Sealer) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create credentials table: %w", err)
	}

	return &SQLiteStore{db: db, sealer: sealer, logger: slog.Default()}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, identity string) (*Credential, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}

	var cred Credential
	var expiryMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expiry_ms FROM credentials WHERE identity = ?`,
		identity,
	).Scan(&cred.AccessToken, &cred.RefreshToken, &cred.TokenType, &expiryMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	cred.Expiry = millisToExpiry(expiryMS)

	cred, err = s.sealer.openCredential(cred)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *SQLiteStore) Put(ctx context.Context, identity string, partial Credential) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	sealed, err := s.sealer.sealCredential(partial)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, sqliteUpsert,
		identity,
		sealed.AccessToken,
		sealed.RefreshToken,
		sealed.TokenType,
		expiryToMillis(sealed.Expiry),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	s.logger.Debug("stored credential", logging.IdentityHash(identity), "backend", "sqlite")
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
