package tokenstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teemow/slotfinder/internal/logging"
)

// MemoryStore keeps credentials in process memory. Contents are lost on
// restart; use a durable backend in production.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
	logger      *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]Credential),
		logger:      slog.Default(),
	}
}

// SetLogger sets a custom logger for the store.
func (s *MemoryStore) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

func (s *MemoryStore) Get(_ context.Context, identity string) (*Credential, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}

func (s *MemoryStore) Put(_ context.Context, identity string, partial Credential) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[identity] = s.credentials[identity].Merge(partial)
	s.logger.Debug("stored credential",
		logging.IdentityHash(identity),
		"expiry", partial.Expiry,
		"has_refresh_token", s.credentials[identity].RefreshToken != "")
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.credentials, identity)
	s.logger.Info("deleted credential", logging.IdentityHash(identity))
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
