package engine

import (
	"sort"
	"sync/atomic"

	"github.com/msageha/restfile/internal/model"
)

// Registry holds the current command definitions. The whole set is swapped on
// reload; a definition is never mutated in place.
type Registry struct {
	cmds atomic.Pointer[map[string]model.Command]
}

func NewRegistry(cmds map[string]model.Command) *Registry {
	r := &Registry{}
	r.Replace(cmds)
	return r
}

func (r *Registry) Get(name string) (model.Command, bool) {
	cmd, ok := (*r.cmds.Load())[name]
	return cmd, ok
}

func (r *Registry) Names() []string {
	m := *r.cmds.Load()
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(*r.cmds.Load())
}

// Replace installs cmds and returns the names that are no longer registered.
func (r *Registry) Replace(cmds map[string]model.Command) []string {
	next := make(map[string]model.Command, len(cmds))
	for k, v := range cmds {
		next[k] = v
	}
	prev := r.cmds.Swap(&next)
	if prev == nil {
		return nil
	}
	var removed []string
	for name := range *prev {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Describe returns the service descriptions of all registered commands, sorted by name.
func (r *Registry) Describe() []model.ServiceDescription {
	m := *r.cmds.Load()
	out := make([]model.ServiceDescription, 0, len(m))
	for _, name := range r.Names() {
		if cmd, ok := m[name]; ok {
			out = append(out, model.DescribeCommand(cmd))
		}
	}
	return out
}
