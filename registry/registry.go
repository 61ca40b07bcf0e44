package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Status is the backend's externally-observed health/capacity state.
type Status int

const (
	Unknown Status = iota
	Healthy
	Unhealthy
	AtCapacity
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case AtCapacity:
		return "at_capacity"
	default:
		return "unknown"
	}
}

// ModelCapability names one model a backend advertises.
type ModelCapability struct {
	Name string
}

// Backend is the registry's record for one configured backend.
type Backend struct {
	ID          string
	Name        string
	URL         string
	BackendType BackendType
	Models      []ModelCapability
	Profile     AgentProfile

	// PendingLimit is the configured per-backend AtCapacity threshold;
	// explicit per backend, with a safe type-based default.
	PendingLimit int64

	// Priority is the static, configured preference used as a scheduler
	// tie-break; higher is preferred.
	Priority int

	status  atomic.Int32
	pending atomic.Int64
}

func (b *Backend) Status() Status {
	return Status(b.status.Load())
}

func (b *Backend) SetStatus(s Status) {
	b.status.Store(int32(s))
}

func (b *Backend) Pending() int64 {
	return b.pending.Load()
}

// Registry owns backend records and the agent handles that execute
// requests, indexed by id and by model name.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]Agent
	backends map[string]*Backend
	byModel map[string]map[string]struct{} // model -> set of backend ids, insertion-ordered via byModelOrder
	byModelOrder map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		agents:       make(map[string]Agent),
		backends:     make(map[string]*Backend),
		byModel:      make(map[string]map[string]struct{}),
		byModelOrder: make(map[string][]string),
	}
}

// Register adds backend and agent to both indexes. Fails on duplicate id.
// Writes the secondary (by_model) index before the primary (agents/backends)
// index so a concurrent agents_for_model reader either sees the backend
// fully present or fully absent, never half-registered.
func (r *Registry) Register(b *Backend, agent Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[b.ID]; exists {
		return fmt.Errorf("backend %q already registered", b.ID)
	}

	for _, m := range b.Models {
		set, ok := r.byModel[m.Name]
		if !ok {
			set = make(map[string]struct{})
			r.byModel[m.Name] = set
		}
		set[b.ID] = struct{}{}
		r.byModelOrder[m.Name] = append(r.byModelOrder[m.Name], b.ID)
	}

	r.agents[b.ID] = agent
	r.backends[b.ID] = b
	return nil
}

// Deregister removes a backend from both indexes, primary first then
// secondary — the mirror ordering of Register. pending_request_count is
// owned by the Backend record and dies with it; it is not reset here.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[id]
	if !ok {
		return
	}
	delete(r.backends, id)
	delete(r.agents, id)

	for _, m := range b.Models {
		if set, ok := r.byModel[m.Name]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byModel, m.Name)
			}
		}
		order := r.byModelOrder[m.Name]
		filtered := order[:0]
		for _, existing := range order {
			if existing != id {
				filtered = append(filtered, existing)
			}
		}
		if len(filtered) == 0 {
			delete(r.byModelOrder, m.Name)
		} else {
			r.byModelOrder[m.Name] = filtered
		}
	}
}

func (r *Registry) GetAgent(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

func (r *Registry) GetBackend(id string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// AgentsForModel returns agent ids registered for model, in the
// deterministic (insertion) order registration established.
func (r *Registry) AgentsForModel(model string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order := r.byModelOrder[model]
	out := make([]string, len(order))
	copy(out, order)
	return out
}

func (r *Registry) IncrementPending(id string) {
	r.mu.RLock()
	b, ok := r.backends[id]
	r.mu.RUnlock()
	if ok {
		b.pending.Add(1)
	}
}

// DecrementPending saturates at zero.
func (r *Registry) DecrementPending(id string) {
	r.mu.RLock()
	b, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	for {
		cur := b.pending.Load()
		if cur <= 0 {
			return
		}
		if b.pending.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// SnapshotIDs returns every registered backend id, in no particular order.
func (r *Registry) SnapshotIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	return ids
}

// AllBackends returns a snapshot of every backend record (used by the
// health poller).
func (r *Registry) AllBackends() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	return out
}
