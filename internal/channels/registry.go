package channels

import (
	"fmt"
	"sort"
)

// UnknownChannelError reports an attachment naming a channel the
// registry does not know. It is raised at setup, never mid-run.
type UnknownChannelError struct {
	Name string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("channels: unknown channel model %q", e.Name)
}

// Attachment binds a channel model to a set of cells with a density
// multiplier. Gating state for the attachment lives in the tissue
// state, one gate vector per target cell.
type Attachment struct {
	Model   Model
	Cells   []int
	Density float64
}

// Registry is the fixed catalog of channel models, looked up by name.
type Registry struct {
	factories map[string]func() Model
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Model)}
	r.factories["nav"] = func() Model { return NewNaV() }
	r.factories["kv"] = func() Model { return NewKv() }
	r.factories["leak"] = func() Model { return NewLeak() }
	r.factories["kca"] = func() Model { return NewKCa() }
	r.factories["nakpump"] = func() Model { return NewNaKPump() }
	return r
}

// Get returns a fresh instance of the named model.
func (r *Registry) Get(name string) (Model, error) {
	fn, ok := r.factories[name]
	if !ok {
		return nil, &UnknownChannelError{Name: name}
	}
	return fn(), nil
}

// Attach binds the named model to the given cells. The density override
// scales the model's peak permeability per attachment; zero means 1.
func (r *Registry) Attach(name string, cells []int, density float64) (*Attachment, error) {
	m, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if density == 0 {
		density = 1
	}
	if density < 0 {
		return nil, fmt.Errorf("channels: negative density %g for %q", density, name)
	}
	return &Attachment{Model: m, Cells: cells, Density: density}, nil
}

// List returns the known model names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
