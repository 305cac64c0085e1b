package tokens

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and local
// development; the single lock gives it the same linearizable reuse guarantee
// the Postgres upsert provides.
type MemoryStore struct {
	mu      sync.Mutex
	byToken map[string]Record
	byScope map[scopeKey]string
}

type scopeKey struct {
	workspaceID string
	owner       string
	typ         TokenType
}

func scopeOf(rec Record) scopeKey {
	owner := "c:" + rec.CustomerID
	if rec.CustomerID == "" {
		owner = "p:" + rec.PhoneNumber
	}
	return scopeKey{workspaceID: rec.WorkspaceID, owner: owner, typ: rec.Type}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken: make(map[string]Record),
		byScope: make(map[scopeKey]string),
	}
}

func (m *MemoryStore) Upsert(_ context.Context, candidate Record, now time.Time) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scopeOf(candidate)
	if token, ok := m.byScope[key]; ok {
		existing := m.byToken[token]
		if existing.Live(now) {
			existing.Payload = candidate.Payload
			existing.UserID = candidate.UserID
			existing.PhoneNumber = candidate.PhoneNumber
			existing.IPAddress = candidate.IPAddress
			existing.UpdatedAt = now
			m.byToken[token] = existing
			return existing, false, nil
		}
		// Stale record for the scope: replace it in place.
		delete(m.byToken, token)
	}

	m.byToken[candidate.Token] = candidate
	m.byScope[key] = candidate.Token
	return candidate, true, nil
}

func (m *MemoryStore) GetByToken(_ context.Context, token string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byToken[token]
	if !ok {
		return Record{}, ErrTokenNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Revoke(_ context.Context, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byToken[token]
	if !ok {
		return ErrTokenNotFound
	}
	if rec.Live(now) {
		rec.ExpiresAt = now
		rec.UpdatedAt = now
		m.byToken[token] = rec
	}
	return nil
}

func (m *MemoryStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for token, rec := range m.byToken {
		if rec.ExpiresAt.Before(cutoff) {
			delete(m.byToken, token)
			if m.byScope[scopeOf(rec)] == token {
				delete(m.byScope, scopeOf(rec))
			}
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) CountLiveByType(_ context.Context, workspaceID string, now time.Time) (map[TokenType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[TokenType]int)
	for _, rec := range m.byToken {
		if rec.WorkspaceID == workspaceID && rec.Live(now) {
			counts[rec.Type]++
		}
	}
	return counts, nil
}
