package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teemow/slotfinder/internal/logging"
)

const defaultRedisPrefix = "slotfinder"

// RedisStore keeps each credential in a Redis hash. Put writes only the
// fields present in the partial credential with a single HSET, so the merge
// is atomic on the server.
type RedisStore struct {
	client *redis.Client
	prefix string
	sealer *Sealer
	logger *slog.Logger
}

// NewRedisStore connects to the Redis server at url (redis://...).
func NewRedisStore(ctx context.Context, url, prefix string, sealer *Sealer) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix, sealer), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, sealer *Sealer) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		sealer: sealer,
		logger: slog.Default(),
	}
}

func (s *RedisStore) key(identity string) string {
	return fmt.Sprintf("%s:credential:%s", s.prefix, identity)
}

func (s *RedisStore) Get(ctx context.Context, identity string) (*Credential, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}

	res, err := s.client.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential from redis: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}

	cred := Credential{
		AccessToken:  res["access_token"],
		RefreshToken: res["refresh_token"],
		TokenType:    res["token_type"],
	}
	if v := res["expiry_ms"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt expiry for credential: %w", err)
		}
		cred.Expiry = millisToExpiry(ms)
	}

	cred, err = s.sealer.openCredential(cred)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *RedisStore) Put(ctx context.Context, identity string, partial Credential) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	sealed, err := s.sealer.sealCredential(partial)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"updated_at": time.Now().Unix(),
	}
	if sealed.AccessToken != "" {
		fields["access_token"] = sealed.AccessToken
	}
	if sealed.RefreshToken != "" {
		fields["refresh_token"] = sealed.RefreshToken
	}
	if sealed.TokenType != "" {
		fields["token_type"] = sealed.TokenType
	}
	if ms := expiryToMillis(sealed.Expiry); ms != 0 {
		fields["expiry_ms"] = ms
	}

	if err := s.client.HSet(ctx, s.key(identity), fields).Err(); err != nil {
		return fmt.Errorf("failed to write credential to redis: %w", err)
	}
	s.logger.Debug("stored credential", logging.IdentityHash(identity), "backend", "redis")
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if err := s.client.Del(ctx, s.key(identity)).Err(); err != nil {
		return fmt.Errorf("failed to delete credential from redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
