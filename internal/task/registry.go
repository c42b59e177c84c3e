package task

import "fmt"

// Registry holds the benchmark corpus in memory and serves filtered views
// over it. It never writes back to whatever loaded the corpus (a dataset
// loader, a JSONL file reader, ...) — those are external collaborators per
// the harness's scope.
type Registry struct {
	byID  map[string]Task
	order []string // insertion order, for stable iteration
}

// NewRegistry builds a Registry from a slice of tasks. Later entries with a
// duplicate InstanceID overwrite earlier ones, matching how a map-backed
// load would behave.
func NewRegistry(tasks []Task) *Registry {
	r := &Registry{byID: make(map[string]Task, len(tasks))}
	for _, t := range tasks {
		if _, exists := r.byID[t.InstanceID]; !exists {
			r.order = append(r.order, t.InstanceID)
		}
		r.byID[t.InstanceID] = t
	}
	return r
}

// Len returns the number of tasks in the registry.
func (r *Registry) Len() int { return len(r.order) }

// GetByID returns the task with the given instance ID.
func (r *Registry) GetByID(instanceID string) (Task, error) {
	t, ok := r.byID[instanceID]
	if !ok {
		return Task{}, fmt.Errorf("task not found: %s", instanceID)
	}
	return t, nil
}

// IterAll returns every task in the registry, in load order.
func (r *Registry) IterAll() []Task {
	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// GetByRepo returns every task for the given repository coordinate, in load order.
func (r *Registry) GetByRepo(repo string) []Task {
	var out []Task
	for _, id := range r.order {
		if t := r.byID[id]; t.Repo == repo {
			out = append(out, t)
		}
	}
	return out
}

// GetByDifficulty returns every task tagged with the given difficulty, in load order.
func (r *Registry) GetByDifficulty(difficulty string) []Task {
	var out []Task
	for _, id := range r.order {
		if t := r.byID[id]; t.Difficulty == difficulty {
			out = append(out, t)
		}
	}
	return out
}

// Filter selects tasks: an InstanceID filter short-circuits to that single
// task; otherwise Repo and Difficulty AND-combine, and the result is
// truncated to MaxTasks (0 = unlimited).
type Filter struct {
	InstanceID string
	Repo       string
	Difficulty string
	MaxTasks   int
}

// Select applies f to the registry and returns the matching tasks.
func (r *Registry) Select(f Filter) ([]Task, error) {
	if f.InstanceID != "" {
		t, err := r.GetByID(f.InstanceID)
		if err != nil {
			return nil, err
		}
		return []Task{t}, nil
	}

	var out []Task
	for _, id := range r.order {
		t := r.byID[id]
		if f.Repo != "" && t.Repo != f.Repo {
			continue
		}
		if f.Difficulty != "" && t.Difficulty != f.Difficulty {
			continue
		}
		out = append(out, t)
	}

	if f.MaxTasks > 0 && len(out) > f.MaxTasks {
		out = out[:f.MaxTasks]
	}
	return out, nil
}
