package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Adapter. Hooks let callers inject failures.
type Memory struct {
	mu        sync.RWMutex
	docs      map[string]map[string][]byte
	reachable bool

	// GetHook and SetHook run before the matching operation; a non-nil
	// error is returned in place of the operation.
	GetHook func(collection string) error
	SetHook func(collection, id string) error
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]map[string][]byte{}, reachable: true}
}

func (m *Memory) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable = ok
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.reachable {
		return ErrUnavailable
	}
	return nil
}

func (m *Memory) GetAllDocuments(ctx context.Context, collection string) (map[string][]byte, error) {
	if err := m.Ping(ctx); err != nil {
		return nil, err
	}
	if m.GetHook != nil {
		if err := m.GetHook(collection); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.docs[collection]))
	for id, doc := range m.docs[collection] {
		out[id] = append([]byte(nil), doc...)
	}
	return out, nil
}

func (m *Memory) SetDocument(ctx context.Context, collection, id string, doc []byte) error {
	if err := m.Ping(ctx); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("remote: empty document id in %s", collection)
	}
	if m.SetHook != nil {
		if err := m.SetHook(collection, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = map[string][]byte{}
	}
	m.docs[collection][id] = append([]byte(nil), doc...)
	return nil
}

func (m *Memory) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := m.Ping(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[collection], id)
	return nil
}

// Document returns a copy of a stored document.
func (m *Memory) Document(collection, id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), doc...), true
}

// MemoryFence is an in-process Fence.
type MemoryFence struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]memoryLease
}

type memoryLease struct {
	lease
	token uint64
}

func NewMemoryFence(now func() time.Time) *MemoryFence {
	if now == nil {
		now = time.Now
	}
	return &MemoryFence{now: now, leases: map[string]memoryLease{}}
}

func (f *MemoryFence) Acquire(_ context.Context, key, owner string, ttl time.Duration) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	cur, ok := f.leases[key]
	if ok && cur.heldByOther(owner, now) {
		return 0, fmt.Errorf("%w: %s by %s", ErrFenceHeld, key, cur.Owner)
	}
	next := memoryLease{lease: lease{Owner: owner, ExpiresAt: now.Add(ttl)}, token: cur.token + 1}
	f.leases[key] = next
	return next.token, nil
}

func (f *MemoryFence) Release(_ context.Context, key string, token uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.leases[key]
	if !ok || cur.token != token {
		return fmt.Errorf("%w: %s token %d", ErrFenceHeld, key, token)
	}
	cur.ExpiresAt = time.Time{}
	cur.Owner = ""
	f.leases[key] = cur
	return nil
}
