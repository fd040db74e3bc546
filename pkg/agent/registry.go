package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/psaab/snmpagentd/pkg/snmp"
)

// Registration is the handle of one registered agent. Two registrations
// never own overlapping subtrees.
type Registration struct {
	Name    string
	Root    snmp.OID
	Handler Handler
}

func (r *Registration) String() string {
	return r.Name + "@" + r.Root.String()
}

// Registry holds the set of registered agents. Readers take an immutable
// Snapshot, so registration changes are never observed mid-request.
type Registry struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.cur.Store(&Snapshot{})
	return r
}

// Register adds an agent owning the subtree at root.
func (r *Registry) Register(name string, root snmp.OID, h Handler) (*Registration, error) {
	if len(root) == 0 {
		return nil, fmt.Errorf("agent %q: empty root OID", name)
	}
	if h == nil {
		return nil, fmt.Errorf("agent %q: nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.cur.Load()
	for _, reg := range old.agents {
		if root.HasPrefix(reg.Root) || reg.Root.HasPrefix(root) {
			return nil, fmt.Errorf("agent %q: subtree %s overlaps %s", name, root, reg)
		}
	}

	reg := &Registration{Name: name, Root: root.Clone(), Handler: h}
	agents := make([]*Registration, len(old.agents), len(old.agents)+1)
	copy(agents, old.agents)
	r.cur.Store(&Snapshot{agents: append(agents, reg)})

	slog.Info("MIB agent registered", "agent", name, "root", root.String())
	return reg, nil
}

// Unregister removes reg. It reports whether reg was registered.
func (r *Registry) Unregister(reg *Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.cur.Load()
	agents := make([]*Registration, 0, len(old.agents))
	found := false
	for _, a := range old.agents {
		if a == reg {
			found = true
			continue
		}
		agents = append(agents, a)
	}
	if !found {
		return false
	}
	r.cur.Store(&Snapshot{agents: agents})
	slog.Info("MIB agent unregistered", "agent", reg.Name)
	return true
}

// Snapshot returns the current immutable view of the registry.
func (r *Registry) Snapshot() *Snapshot {
	return r.cur.Load()
}

// Snapshot is an immutable view of the registered agents.
type Snapshot struct {
	agents []*Registration
}

// Agents returns the agents in registration order. The slice must not be
// modified.
func (s *Snapshot) Agents() []*Registration {
	return s.agents
}

// Len returns the number of registered agents.
func (s *Snapshot) Len() int {
	return len(s.agents)
}

// OwnerOf returns the agent whose subtree contains oid, or nil.
func (s *Snapshot) OwnerOf(oid snmp.OID) *Registration {
	var best *Registration
	for _, reg := range s.agents {
		if oid.HasPrefix(reg.Root) && (best == nil || len(reg.Root) > len(best.Root)) {
			best = reg
		}
	}
	return best
}
