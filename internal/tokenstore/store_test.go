package tokenstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing-"+t.Name())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty identity", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyIdentity)
		assert.ErrorIs(t, s.Put(ctx, "", Credential{AccessToken: "a"}), ErrEmptyIdentity)
		assert.ErrorIs(t, s.Delete(ctx, ""), ErrEmptyIdentity)
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		id := "auth0|put-" + t.Name()
		require.NoError(t, s.Put(ctx, id, Credential{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			Expiry:       expiry,
		}))

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "access-1", got.AccessToken)
		assert.Equal(t, "refresh-1", got.RefreshToken)
		assert.Equal(t, "Bearer", got.TokenType)
		assert.True(t, expiry.Equal(got.Expiry), "expiry = %s", got.Expiry)
	})

	t.Run("merge keeps refresh token", func(t *testing.T) {
		s := newStore(t)
		id := "auth0|merge-" + t.Name()
		require.NoError(t, s.Put(ctx, id, Credential{AccessToken: "A1", RefreshToken: "R1", Expiry: expiry}))

		newExpiry := expiry.Add(time.Hour)
		require.NoError(t, s.Put(ctx, id, Credential{AccessToken: "A2", Expiry: newExpiry}))

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "A2", got.AccessToken)
		assert.Equal(t, "R1", got.RefreshToken)
		assert.True(t, newExpiry.Equal(got.Expiry))
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		id := "auth0|delete-" + t.Name()
		require.NoError(t, s.Put(ctx, id, Credential{AccessToken: "A"}))
		require.NoError(t, s.Delete(ctx, id))

		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Delete(ctx, id), "deleting a missing credential is not an error")
	})

	t.Run("concurrent puts never lose the refresh token", func(t *testing.T) {
		s := newStore(t)
		id := "auth0|concurrent-" + t.Name()
		require.NoError(t, s.Put(ctx, id, Credential{AccessToken: "A0", RefreshToken: "R0"}))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, id, Credential{AccessToken: fmt.Sprintf("A%d", i+1)}))
			}(i)
		}
		wg.Wait()

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "R0", got.RefreshToken)
		assert.NotEqual(t, "A0", got.AccessToken)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		path := filepath.Join(t.TempDir(), "tokens.db")
		s, err := NewSQLiteStore(context.Background(), path, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_EncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	sealer, err := NewSealer(testKey)
	require.NoError(t, err)

	s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "tokens.db"), sealer)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "auth0|1", Credential{AccessToken: "plain-access", RefreshToken: "plain-refresh"}))

	var rawRefresh string
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT refresh_token FROM credentials WHERE identity = ?`, "auth0|1").Scan(&rawRefresh))
	assert.NotEqual(t, "plain-refresh", rawRefresh)

	got, err := s.Get(ctx, "auth0|1")
	require.NoError(t, err)
	assert.Equal(t, "plain-refresh", got.RefreshToken)
	assert.Equal(t, "plain-access", got.AccessToken)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewRedisStore(context.Background(), url, "slotfinder-test", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewPostgresStore(context.Background(), url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewMongoStore(context.Background(), uri, "slotfinder_test", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestCredential_Merge(t *testing.T) {
	base := Credential{AccessToken: "A1", RefreshToken: "R1", TokenType: "Bearer", Expiry: time.Unix(100, 0)}

	assert.Equal(t, base, base.Merge(Credential{}))

	merged := base.Merge(Credential{AccessToken: "A2", Expiry: time.Unix(200, 0)})
	assert.Equal(t, "A2", merged.AccessToken)
	assert.Equal(t, "R1", merged.RefreshToken)
	assert.Equal(t, "Bearer", merged.TokenType)
	assert.Equal(t, time.Unix(200, 0), merged.Expiry)

	assert.True(t, Credential{}.IsZero())
	assert.False(t, base.IsZero())
}

func TestCredential_TokenRoundTrip(t *testing.T) {
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Unix(300, 0)}
	assert.Equal(t, tok.AccessToken, FromToken(tok).Token().AccessToken)
	assert.Equal(t, tok.RefreshToken, FromToken(tok).Token().RefreshToken)
	assert.True(t, FromToken(nil).IsZero())
}

func TestSealer(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	assert.True(t, s.Enabled())

	sealed, err := s.Seal("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", sealed)

	again, err := s.Seal("secret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", opened)

	empty, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))

	_, err = s.Open(sealedPrefix + "not base64!")
	assert.Error(t, err)

	plain, err := s.Open("legacy-plaintext")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plaintext", plain, "unsealed values pass through")

	other, err := NewSealer([]byte("abcdef0123456789abcdef0123456789"))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err, "wrong key must fail authentication")
}

func TestSQLiteStore_EnablingEncryptionKeepsPlaintextRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")

	plain, err := NewSQLiteStore(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, plain.Put(ctx, "auth0|1", Credential{AccessToken: "old-access", RefreshToken: "old-refresh"}))
	require.NoError(t, plain.Close())

	sealer, err := NewSealer(testKey)
	require.NoError(t, err)
	s, err := NewSQLiteStore(ctx, path, sealer)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "auth0|1")
	require.NoError(t, err)
	assert.Equal(t, "old-access", got.AccessToken)
	assert.Equal(t, "old-refresh", got.RefreshToken)

	// A refresh writes a sealed access token next to the plaintext refresh token.
	require.NoError(t, s.Put(ctx, "auth0|1", Credential{AccessToken: "new-access"}))

	got, err = s.Get(ctx, "auth0|1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "old-refresh", got.RefreshToken)
}

func TestSealer_Disabled(t *testing.T) {
	s, err := NewSealer(nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	v, err := s.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	var nilSealer *Sealer
	v, err = nilSealer.Open("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	_, err = NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default memory", Config{}, false},
		{"memory", Config{Type: TypeMemory}, false},
		{"redis without url", Config{Type: TypeRedis}, true},
		{"redis", Config{Type: TypeRedis, RedisURL: "redis://localhost:6379/0"}, false},
		{"sqlite without path", Config{Type: TypeSQLite}, true},
		{"postgres without url", Config{Type: TypePostgres}, true},
		{"mongo without uri", Config{Type: TypeMongo}, true},
		{"unknown", Config{Type: "etcd"}, true},
		{"bad key", Config{EncryptionKey: "!!"}, true},
		{"short key", Config{EncryptionKey: "c2hvcnQ="}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Config{Type: TypeSQLite, SQLitePath: filepath.Join(t.TempDir(), "t.db")}, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = Open(ctx, Config{Type: "etcd"}, nil)
	assert.Error(t, err)
}
