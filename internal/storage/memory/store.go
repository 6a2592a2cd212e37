// Package memory implements storage.Store entirely in process memory. It
// is grounded on the teacher's filesystem-backed store: the same
// RWMutex-guarded, single-struct-of-maps approach, minus the one-file-per-
// record I/O, since nothing here needs to survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/storage"
)

type jobRecord struct {
	invocationID string
	state        core.State
	parameters   map[string][]byte
}

// Store is an in-memory storage.Store, intended for tests and local
// development rather than production durability.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*jobRecord
	sets    map[string]map[string]struct{}
	list    map[string][][]byte
	history map[string][]core.State
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]*jobRecord),
		sets:    make(map[string]map[string]struct{}),
		list:    make(map[string][][]byte),
		history: make(map[string][]core.State),
	}
}

// GetJobHistory returns every state jobID has ever been committed into, in
// the order it was recorded (§4.7 "atomic state record replacement with
// history append"). The slice returned is a copy safe for the caller to
// keep.
func (s *Store) GetJobHistory(ctx context.Context, jobID string) ([]core.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist, ok := s.history[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
	}
	out := make([]core.State, len(hist))
	copy(out, hist)
	return out, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
	}

	params := core.Parameters{}
	for k, v := range rec.parameters {
		params[k] = v
	}

	return &core.Job{
		ID:           jobID,
		InvocationID: rec.invocationID,
		CurrentState: rec.state,
		Parameters:   params,
	}, nil
}

func (s *Store) GetCurrentState(ctx context.Context, jobID string) (core.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return core.State{}, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
	}
	return rec.state, nil
}

func (s *Store) GetJobParameter(ctx context.Context, jobID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return rec.parameters[name], nil
}

func (s *Store) IsMember(ctx context.Context, setName, value string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sets[setName][value]
	return ok, nil
}

func (s *Store) BeginTransaction(ctx context.Context) (storage.Transaction, error) {
	return &memTransaction{store: s}, nil
}

// memTransaction buffers writes and applies them all under one lock at
// Commit, so a transaction that is never committed has no observable
// effect, same as storage.Transaction requires of a real driver.
type memTransaction struct {
	store *Store

	stateWrites map[string]core.State
	paramWrites map[string]map[string][]byte
	setAdds     []setOp
	setRemoves  []setOp
	listAppends map[string][][]byte
	listTrims   []trimOp

	committed bool
}

type setOp struct{ set, value string }
type trimOp struct {
	list       string
	start, end int
}

func (t *memTransaction) ensureMaps() {
	if t.stateWrites == nil {
		t.stateWrites = make(map[string]core.State)
	}
	if t.paramWrites == nil {
		t.paramWrites = make(map[string]map[string][]byte)
	}
	if t.listAppends == nil {
		t.listAppends = make(map[string][][]byte)
	}
}

func (t *memTransaction) SetJobState(jobID string, state core.State) error {
	t.ensureMaps()
	t.stateWrites[jobID] = state
	return nil
}

func (t *memTransaction) SetJobParameter(jobID, name string, value []byte) error {
	t.ensureMaps()
	if t.paramWrites[jobID] == nil {
		t.paramWrites[jobID] = make(map[string][]byte)
	}
	t.paramWrites[jobID][name] = value
	return nil
}

func (t *memTransaction) AddToSet(setName, value string) error {
	t.setAdds = append(t.setAdds, setOp{setName, value})
	return nil
}

func (t *memTransaction) RemoveFromSet(setName, value string) error {
	t.setRemoves = append(t.setRemoves, setOp{setName, value})
	return nil
}

func (t *memTransaction) AddToList(listName string, value []byte) error {
	t.ensureMaps()
	t.listAppends[listName] = append(t.listAppends[listName], value)
	return nil
}

func (t *memTransaction) TrimList(listName string, start, end int) error {
	t.listTrims = append(t.listTrims, trimOp{listName, start, end})
	return nil
}

func (t *memTransaction) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for jobID, state := range t.stateWrites {
		rec, ok := t.store.jobs[jobID]
		if !ok {
			rec = &jobRecord{parameters: make(map[string][]byte)}
			t.store.jobs[jobID] = rec
		}
		rec.state = state
		t.store.history[jobID] = append(t.store.history[jobID], state)
	}
	for jobID, params := range t.paramWrites {
		rec, ok := t.store.jobs[jobID]
		if !ok {
			rec = &jobRecord{parameters: make(map[string][]byte)}
			t.store.jobs[jobID] = rec
		}
		for name, value := range params {
			rec.parameters[name] = value
		}
	}
	for _, op := range t.setAdds {
		if t.store.sets[op.set] == nil {
			t.store.sets[op.set] = make(map[string]struct{})
		}
		t.store.sets[op.set][op.value] = struct{}{}
	}
	for _, op := range t.setRemoves {
		delete(t.store.sets[op.set], op.value)
	}
	for listName, values := range t.listAppends {
		t.store.list[listName] = append(t.store.list[listName], values...)
	}
	for _, op := range t.listTrims {
		values := t.store.list[op.list]
		end := op.end
		if end < 0 || end >= len(values) {
			end = len(values) - 1
		}
		start := op.start
		if start < 0 {
			start = 0
		}
		if start > end {
			t.store.list[op.list] = nil
			continue
		}
		t.store.list[op.list] = append([][]byte(nil), values[start:end+1]...)
	}

	t.committed = true
	return nil
}

// Discard is a no-op: writes only ever land in the transaction's own
// buffers until Commit, so there is nothing to undo in the store itself.
func (t *memTransaction) Discard(ctx context.Context) error {
	return nil
}
