// Package memory provides in-process stores for flow definitions and
// instances. They back tests and single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"chatflow/runtime"
)

// Definitions is a DefinitionStore over a fixed set of flows.
type Definitions struct {
	mu    sync.RWMutex
	flows map[string]map[string]*runtime.Flow // tenant -> flow id -> flow
}

func NewDefinitions(flows ...*runtime.Flow) *Definitions {
	d := &Definitions{flows: make(map[string]map[string]*runtime.Flow)}
	for _, f := range flows {
		d.Put(f)
	}
	return d
}

// Put adds or replaces a flow.
func (d *Definitions) Put(f *runtime.Flow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byID, ok := d.flows[f.TenantID]
	if !ok {
		byID = make(map[string]*runtime.Flow)
		d.flows[f.TenantID] = byID
	}
	byID[f.ID] = f
}

func (d *Definitions) GetFlow(_ context.Context, tenantID, flowID string) (*runtime.Flow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if f, ok := d.flows[tenantID][flowID]; ok {
		return f, nil
	}
	return nil, runtime.ErrNotFound
}

// ListFlows returns the tenant's flows ordered by id, so trigger matching
// is deterministic.
func (d *Definitions) ListFlows(_ context.Context, tenantID string) ([]*runtime.Flow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*runtime.Flow, 0, len(d.flows[tenantID]))
	for _, f := range d.flows[tenantID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Instances is an InstanceStore held in memory. Every read returns a copy.
type Instances struct {
	mu        sync.Mutex
	instances map[string]*runtime.Instance
	history   map[string][]runtime.HistoryEntry
}

func NewInstances() *Instances {
	return &Instances{
		instances: make(map[string]*runtime.Instance),
		history:   make(map[string][]runtime.HistoryEntry),
	}
}

func (s *Instances) GetActive(_ context.Context, key runtime.ContactKey) (*runtime.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.instances {
		if in.Active && in.Key == key {
			return in.Clone(), nil
		}
	}
	return nil, runtime.ErrNotFound
}

func (s *Instances) GetInstance(_ context.Context, id string) (*runtime.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.instances[id]; ok {
		return in.Clone(), nil
	}
	return nil, runtime.ErrNotFound
}

func (s *Instances) Create(_ context.Context, in *runtime.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[in.ID]; exists {
		return runtime.ErrVersionConflict
	}
	in.Version = 1
	s.instances[in.ID] = in.Clone()
	return nil
}

func (s *Instances) Update(_ context.Context, in *runtime.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.instances[in.ID]
	if !ok {
		return runtime.ErrNotFound
	}
	if stored.Version != in.Version {
		return runtime.ErrVersionConflict
	}
	in.Version++
	s.instances[in.ID] = in.Clone()
	return nil
}

func (s *Instances) DeactivateActive(_ context.Context, key runtime.ContactKey) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivate(key), nil
}

// StartInstance deactivates the active instances of in.Key and stores in
// under one lock. Nothing changes when in.ID already exists.
func (s *Instances) StartInstance(_ context.Context, in *runtime.Instance) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[in.ID]; exists {
		return nil, runtime.ErrVersionConflict
	}
	ids := s.deactivate(in.Key)
	in.Version = 1
	s.instances[in.ID] = in.Clone()
	return ids, nil
}

func (s *Instances) deactivate(key runtime.ContactKey) []string {
	var ids []string
	for id, in := range s.instances {
		if in.Active && in.Key == key {
			in.Active = false
			in.AwaitingInput = false
			in.Version++
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Instances) AppendHistory(_ context.Context, entries ...runtime.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.history[e.InstanceID] = append(s.history[e.InstanceID], e)
	}
	return nil
}

func (s *Instances) History(_ context.Context, instanceID string) ([]runtime.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runtime.HistoryEntry(nil), s.history[instanceID]...), nil
}

// ActiveCount returns how many active instances key has. Used by tests to
// check the single-active invariant.
func (s *Instances) ActiveCount(key runtime.ContactKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, in := range s.instances {
		if in.Active && in.Key == key {
			n++
		}
	}
	return n
}
