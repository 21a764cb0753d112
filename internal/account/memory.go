package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alecgard/pantry/internal/quota"
)

// MemoryStore is a process-local usage record store with the same partial
// update and version semantics as Store. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]quota.UsageRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]quota.UsageRecord),
		now:     time.Now,
	}
}

// Create inserts a fresh free-plan record for the identity.
func (m *MemoryStore) Create(_ context.Context, in CreateInput) (*quota.UsageRecord, error) {
	if in.Identity == "" {
		return nil, fmt.Errorf("creating usage record: %w", quota.ErrInvalidSubject)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[in.Identity]; ok {
		return nil, fmt.Errorf("creating usage record %s: %w", in.Identity, ErrExists)
	}
	now := m.now()
	r := quota.UsageRecord{
		Identity:      in.Identity,
		Plan:          quota.PlanFree,
		IsTestAccount: in.IsTestAccount,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.records[in.Identity] = r
	return &r, nil
}

// Get returns a copy of the identity's record.
func (m *MemoryStore) Get(_ context.Context, identity string) (*quota.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[identity]
	if !ok {
		return nil, fmt.Errorf("getting usage record %s: %w", identity, quota.ErrNotFound)
	}
	return &r, nil
}

// Update applies the non-nil fields of upd, honouring ExpectedVersion.
func (m *MemoryStore) Update(_ context.Context, identity string, upd quota.UsageUpdate) error {
	if upd.Empty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[identity]
	if !ok {
		return fmt.Errorf("updating usage record %s: %w", identity, quota.ErrNotFound)
	}
	if upd.ExpectedVersion > 0 && upd.ExpectedVersion != r.Version {
		return fmt.Errorf("updating usage record %s: %w", identity, quota.ErrConflict)
	}
	upd.Apply(&r)
	r.Version++
	r.UpdatedAt = m.now()
	m.records[identity] = r
	return nil
}
