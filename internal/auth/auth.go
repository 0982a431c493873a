// Package auth authenticates the platform services that call the risk API.
//
// Authentication model:
//   - Health, metrics, and auth info: no auth required
//   - Risk and alert endpoints: a service API key (sk_...) or the shared
//     SERVICE_TOKEN
//   - Admin endpoints: the X-Admin-Secret header
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
	ErrNoService     = errors.New("service name required")
)

// StaticKeyID identifies callers authenticated with the shared token.
const StaticKeyID = "ak_static"

// APIKey is a credential issued to one calling service.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`       // SHA256 hash of key (stored)
	Service   string     `json:"service"` // calling service, e.g. "order-gateway"
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API keys
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	Get(ctx context.Context, id string) (*APIKey, error)
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	ListByService(ctx context.Context, service string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
}

// Manager issues and validates service keys.
type Manager struct {
	store        Store
	serviceToken string
	logger       *slog.Logger
	now          func() time.Time
}

// NewManager creates a new auth manager. A non-empty serviceToken is
// accepted alongside issued keys.
func NewManager(store Store, serviceToken string) *Manager {
	return &Manager{
		store:        store,
		serviceToken: serviceToken,
		logger:       slog.Default(),
		now:          time.Now,
	}
}

// WithLogger sets the logger used for background key bookkeeping.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.logger = l
	return m
}

// GenerateKey creates a key for service. ttl <= 0 means it never expires.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, service, name string, ttl time.Duration) (rawKey string, key *APIKey, err error) {
	service = strings.ToLower(strings.TrimSpace(service))
	if service == "" {
		return "", nil, ErrNoService
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = "sk_" + hex.EncodeToString(b)

	now := m.now()
	key = &APIKey{
		ID:        "ak_" + hex.EncodeToString(b[:8]),
		Hash:      hashKey(rawKey),
		Service:   service,
		Name:      name,
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		key.ExpiresAt = &exp
	}

	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey resolves a raw key (optionally "Bearer "-prefixed) to its
// metadata.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	if m.serviceToken != "" && subtle.ConstantTimeCompare([]byte(rawKey), []byte(m.serviceToken)) == 1 {
		return &APIKey{ID: StaticKeyID, Service: "platform", Name: "shared service token"}, nil
	}

	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && m.now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	touched := *key
	touched.LastUsed = m.now()
	go func() {
		if err := m.store.Update(context.Background(), &touched); err != nil {
			m.logger.Warn("failed to record key use", "key_id", touched.ID, "error", err)
		}
	}()

	return key, nil
}

// ListKeys returns the keys issued to service, newest first.
func (m *Manager) ListKeys(ctx context.Context, service string) ([]*APIKey, error) {
	return m.store.ListByService(ctx, strings.ToLower(service))
}

// RevokeKey revokes an API key.
func (m *Manager) RevokeKey(ctx context.Context, keyID string) error {
	key, err := m.store.Get(ctx, keyID)
	if err != nil {
		return err
	}
	if key.Revoked {
		return ErrKeyNotFound
	}
	key.Revoked = true
	return m.store.Update(ctx, key)
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*APIKey),
	}
}

func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) ListByService(_ context.Context, service string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := []*APIKey{}
	for _, k := range s.keys {
		if k.Service == service {
			cp := *k
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// Update writes the mutable fields. Revocation is sticky.
func (s *MemoryStore) Update(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key.ID]
	if !ok {
		return ErrKeyNotFound
	}
	if key.LastUsed.After(k.LastUsed) {
		k.LastUsed = key.LastUsed
	}
	k.Revoked = k.Revoked || key.Revoked
	return nil
}
