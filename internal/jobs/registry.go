package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Executor runs one job occurrence for one user. It must return an error on
// failure and nil on success; internal retries against the game backend are
// the executor's own business. The scheduler does not interpret results
// beyond nil/non-nil.
type Executor func(ctx context.Context, username string, cfg Config) error

type entry struct {
	fn   Executor
	name string
}

// Registry maps job IDs to executors and display names. Pure lookup table;
// no scheduling logic lives here.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

func (r *Registry) Register(jobID, displayName string, fn Executor) {
	r.mu.Lock()
	r.entries[jobID] = entry{fn: fn, name: displayName}
	r.mu.Unlock()
}

func (r *Registry) Lookup(jobID string) (Executor, string, bool) {
	r.mu.RLock()
	e, ok := r.entries[jobID]
	r.mu.RUnlock()
	return e.fn, e.name, ok
}

func (r *Registry) DisplayName(jobID string) string {
	r.mu.RLock()
	e := r.entries[jobID]
	r.mu.RUnlock()
	if e.name == "" {
		return jobID
	}
	return e.name
}

// Execute looks up and invokes the executor for jobID.
func (r *Registry) Execute(ctx context.Context, jobID, username string, cfg Config) error {
	fn, _, ok := r.Lookup(jobID)
	if !ok {
		return fmt.Errorf("no executor registered for job %q", jobID)
	}
	return fn(ctx, username, cfg)
}

// JobIDs returns the registered IDs, sorted for stable listings.
func (r *Registry) JobIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// AvailableJobs describes every registered job with a disabled default
// schedule, for the settings UI.
func (r *Registry) AvailableJobs() map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, id := range r.JobIDs() {
		_, name, _ := r.Lookup(id)
		out[id] = map[string]any{
			"name":    name,
			"type":    string(TypeDaily),
			"hour":    0,
			"minute":  0,
			"enabled": false,
		}
	}
	return out
}
