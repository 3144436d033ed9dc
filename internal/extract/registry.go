package extract

import "sync"

// Registry is the concurrency-safe task table shared by the engine, its
// workers and the retention sweeper.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Record)}
}

func (r *Registry) Put(rec *Record) {
	r.mu.Lock()
	r.tasks[rec.ID()] = rec
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tasks[id]
	return rec, ok
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

// DeleteIf removes id when pred holds for its current snapshot. The check and
// the removal happen under the same lock.
func (r *Registry) DeleteIf(id string, pred func(Task) bool) (removed bool, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tasks[id]
	if !ok {
		return false, false
	}
	if !pred(rec.Snapshot()) {
		return false, true
	}
	delete(r.tasks, id)
	return true, true
}

// Range calls fn for a snapshot of every task until fn returns false.
// fn runs without the registry lock held.
func (r *Registry) Range(fn func(Task) bool) {
	r.mu.RLock()
	recs := make([]*Record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()
	for _, rec := range recs {
		if !fn(rec.Snapshot()) {
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
