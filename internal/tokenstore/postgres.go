package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teemow/slotfinder/internal/logging"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS slotfinder_credentials (
	identity      TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry_ms     BIGINT NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const postgresUpsert = `
INSERT INTO slotfinder_credentials AS c (identity, access_token, refresh_token, token_type, expiry_ms, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (identity) DO UPDATE SET
	access_token  = COALESCE(NULLIF(EXCLUDED.access_token, ''),  c.access_token),
	refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), c.refresh_token),
	token_type    = COALESCE(NULLIF(EXCLUDED.token_type, ''),    c.token_type),
	expiry_ms     = COALESCE(NULLIF(EXCLUDED.expiry_ms, 0),      c.expiry_ms),
	updated_at    = now()`

// PostgresStore keeps credentials in a PostgreSQL table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sealer *Sealer
	logger *slog.Logger
}

// NewPostgresStore connects to databaseURL and creates the table if needed.
func NewPostgresStore(ctx context.Context, databaseURL string, sealer *Sealer) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create credentials table: %w", err)
	}
	return &PostgresStore{pool: pool, sealer: sealer, logger: slog.Default()}, nil
}

func (s *PostgresStore) Get(ctx context.Context, identity string) (*Credential, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}

	var cred Credential
	var expiryMS int64
	err := s.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, token_type, expiry_ms FROM slotfinder_credentials WHERE identity = $1`,
		identity,
	).Scan(&cred.AccessToken, &cred.RefreshToken, &cred.TokenType, &expiryMS)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) Put(ctx context.Context, identity string, partial Credential) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	sealed, err := s.sealer.sealCredential(partial)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, postgresUpsert,
		identity,
		sealed.AccessToken,
		sealed.RefreshToken,
		sealed.TokenType,
		expiryToMillis(sealed.Expiry),
	)
	if err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	s.logger.Debug("stored credential", logging.IdentityHash(identity), "backend", "postgres")
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM slotfinder_credentials WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
