package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/purchase-gateway/internal/purchase"
)

type memoryRecord struct {
	state     purchase.State
	updatedAt time.Time
	version   int64
	payload   []byte
}

// MemoryRepository keeps sessions as JSON documents so no caller can alias
// the stored aggregate.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[purchase.SessionID]memoryRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[purchase.SessionID]memoryRecord)}
}

func (r *MemoryRepository) Create(ctx context.Context, p *purchase.Process) error {
	rec, err := toMemoryRecord(p)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[p.ID()]; exists {
		return purchase.NewError(purchase.KindValidation, "repository.Create", fmt.Sprintf("session %s already exists", p.ID()))
	}
	rec.version = 1
	r.sessions[p.ID()] = rec
	p.SetVersion(rec.version)
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id purchase.SessionID) (*purchase.Process, error) {
	r.mu.RLock()
	rec, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, purchase.ErrSessionNotFound(id)
	}
	p := new(purchase.Process)
	if err := json.Unmarshal(rec.payload, p); err != nil {
		return nil, fmt.Errorf("repository: decode session %s: %w", id, err)
	}
	p.SetVersion(rec.version)
	return p, nil
}

func (r *MemoryRepository) Save(ctx context.Context, p *purchase.Process) error {
	rec, err := toMemoryRecord(p)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[p.ID()]
	if !ok {
		return purchase.ErrSessionNotFound(p.ID())
	}
	if current.version != p.Version() {
		return errStaleVersion(p.ID(), p.Version())
	}
	rec.version = current.version + 1
	r.sessions[p.ID()] = rec
	p.SetVersion(rec.version)
	return nil
}

func (r *MemoryRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]purchase.SessionID, error) {
	r.mu.RLock()
	type stale struct {
		id purchase.SessionID
		at time.Time
	}
	var found []stale
	for id, rec := range r.sessions {
		if !rec.state.IsTerminal() && rec.updatedAt.Before(cutoff) {
			found = append(found, stale{id: id, at: rec.updatedAt})
		}
	}
	r.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]purchase.SessionID, len(found))
	for i, s := range found {
		out[i] = s.id
	}
	return out, nil
}

func toMemoryRecord(p *purchase.Process) (memoryRecord, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return memoryRecord{}, fmt.Errorf("repository: encode session %s: %w", p.ID(), err)
	}
	return memoryRecord{state: p.State(), updatedAt: p.UpdatedAt(), payload: payload}, nil
}
