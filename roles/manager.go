package roles

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrFrozen      = errors.New("role manager frozen")
	ErrNotFrozen   = errors.New("role manager not frozen")
	ErrEmptyRole   = errors.New("role name empty")
	ErrUnknownRole = errors.New("unknown role")
	ErrNoRoles     = errors.New("role set empty")
)

// Manager tracks known roles and, after Freeze, the transitive closure of
// the inheritance edges.
type Manager struct {
	mu      sync.RWMutex
	roles   map[string]struct{}
	edges   map[string][]string
	closure map[string]map[string]struct{}
	frozen  bool
}

func NewManager() *Manager {
	return &Manager{
		roles: make(map[string]struct{}),
		edges: make(map[string][]string),
	}
}

// RegisterRole adds a role. Registering an existing role is a no-op.
func (m *Manager) RegisterRole(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return ErrFrozen
	}
	if name == "" {
		return ErrEmptyRole
	}
	m.roles[name] = struct{}{}
	return nil
}

// Inherit lets role act as each of implied. Both sides must be registered.
func (m *Manager) Inherit(role string, implied ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return ErrFrozen
	}
	if _, ok := m.roles[role]; !ok {
		return errors.New("inherit: unknown role " + role)
	}
	for _, r := range implied {
		if _, ok := m.roles[r]; !ok {
			return errors.New("inherit: unknown role " + r)
		}
		m.edges[role] = append(m.edges[role], r)
	}
	return nil
}

// Freeze computes the closure and rejects further registration.
func (m *Manager) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return
	}

	m.closure = make(map[string]map[string]struct{}, len(m.roles))
	for role := range m.roles {
		reach := map[string]struct{}{role: {}}
		stack := []string{role}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range m.edges[cur] {
				if _, seen := reach[next]; seen {
					continue
				}
				reach[next] = struct{}{}
				stack = append(stack, next)
			}
		}
		m.closure[role] = reach
	}
	m.frozen = true
}

// Frozen reports whether Freeze has been called.
func (m *Manager) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Known reports whether name is a registered role.
func (m *Manager) Known(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roles[name]
	return ok
}

// Permits reports whether a caller whose active role is active may perform an
// operation that requires required. Unknown roles never permit anything.
func (m *Manager) Permits(active, required string) bool {
	if active == "" || required == "" {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.frozen {
		return active == required
	}
	reach, ok := m.closure[active]
	if !ok {
		return false
	}
	_, ok = reach[required]
	return ok
}

// Normalize validates a role list and removes duplicates, keeping the first
// occurrence so the order (and therefore the default role) is stable.
func (m *Manager) Normalize(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, ErrNoRoles
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		if _, ok := m.roles[r]; !ok {
			return nil, errors.Join(ErrUnknownRole, errors.New(r))
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// Roles returns the registered roles in sorted order.
func (m *Manager) Roles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.roles))
	for r := range m.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
