package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence surface used by the server and the worker.
type Store interface {
	Save(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	FindByHash(ctx context.Context, imageHash, tpl string, maxAge time.Duration) (*Entry, error)
	List(ctx context.Context, tpl string, limit int) ([]Entry, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*Memory)(nil)
)

// Memory is a process-local Store with the same upsert semantics as
// Repository.
type Memory struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory { return &Memory{now: time.Now} }

func (m *Memory) Save(_ context.Context, e *Entry) error {
	if e.ImageHash == "" || e.Template == "" {
		return errors.New("image hash and template are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = m.now()
	for i, old := range m.entries {
		if old.ImageHash == e.ImageHash && old.Template == e.Template {
			e.ID = old.ID
			cp := *e
			m.entries[i] = &cp
			return nil
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindByHash(_ context.Context, imageHash, tpl string, maxAge time.Duration) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ImageHash != imageHash || e.Template != tpl || e.Status != StatusDone {
			continue
		}
		if maxAge > 0 && m.now().Sub(e.CreatedAt) > maxAge {
			return nil, ErrNotFound
		}
		cp := *e
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) List(_ context.Context, tpl string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if tpl == "" || e.Template == tpl {
			out = append(out, *e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
