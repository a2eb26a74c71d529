package domain

import (
	"slices"
	"sync"
)

// Hierarchy is the in-memory tenant tree. The id map is authoritative;
// the parent and level indexes are derived from it and kept in step by
// every write. All lookups return copies.
type Hierarchy struct {
	mu       sync.RWMutex
	tenants  map[string]*Tenant
	children map[string][]string
	byLevel  map[Level][]string
	rootID   string
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		tenants:  make(map[string]*Tenant),
		children: make(map[string][]string),
		byLevel:  make(map[Level][]string),
	}
}

// AddTenant inserts t. Parents must be added before their children for the
// parent's child list to be updated; no level ordering is enforced here
// (see Validate).
func (h *Hierarchy) AddTenant(t Tenant) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.tenants[t.ID]; exists {
		return &DuplicateTenantError{ID: t.ID}
	}

	stored := t.Clone()
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	if stored.Properties == nil {
		stored.Properties = make(map[string]string)
	}
	h.tenants[stored.ID] = &stored
	h.byLevel[stored.Level] = append(h.byLevel[stored.Level], stored.ID)

	if stored.ParentID != "" {
		h.children[stored.ParentID] = append(h.children[stored.ParentID], stored.ID)
		if parent, ok := h.tenants[stored.ParentID]; ok {
			parent.AddChild(stored.ID)
		}
	}
	if stored.Level == LevelRoot && h.rootID == "" {
		h.rootID = stored.ID
	}
	return nil
}

// Tenant returns a copy of the tenant with the given id.
func (h *Hierarchy) Tenant(id string) (Tenant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.tenants[id]
	if !ok {
		return Tenant{}, false
	}
	return t.Clone(), true
}

// Root returns the root tenant.
func (h *Hierarchy) Root() (Tenant, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.tenants[h.rootID]
	if !ok {
		return Tenant{}, false
	}
	return t.Clone(), true
}

// Ancestors returns the chain of parents of id, nearest first. Unknown ids
// and the root yield an empty slice.
func (h *Hierarchy) Ancestors(id string) []Tenant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ancestorsLocked(id)
}

func (h *Hierarchy) ancestorsLocked(id string) []Tenant {
	t, ok := h.tenants[id]
	if !ok {
		return []Tenant{}
	}

	out := []Tenant{}
	seen := map[string]bool{id: true}
	for parentID := t.ParentID; parentID != ""; {
		parent, ok := h.tenants[parentID]
		if !ok || seen[parentID] {
			break
		}
		seen[parentID] = true
		out = append(out, parent.Clone())
		parentID = parent.ParentID
	}
	return out
}

// PathFromRoot returns the ancestors of id in root-first order followed by
// the tenant itself.
func (h *Hierarchy) PathFromRoot(id string) []Tenant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.tenants[id]
	if !ok {
		return []Tenant{}
	}
	path := h.ancestorsLocked(id)
	slices.Reverse(path)
	return append(path, t.Clone())
}

// Descendants returns every tenant below id in breadth-first order, excluding id.
func (h *Hierarchy) Descendants(id string) []Tenant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.descendantIDsLocked(id)
	out := make([]Tenant, 0, len(ids))
	for _, d := range ids {
		if t, ok := h.tenants[d]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (h *Hierarchy) descendantIDsLocked(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	queue := slices.Clone(h.children[id])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, h.children[next]...)
	}
	return out
}

// TenantsByLevel returns the tenants registered at level, in insertion order.
func (h *Hierarchy) TenantsByLevel(level Level) []Tenant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.byLevel[level]
	out := make([]Tenant, 0, len(ids))
	for _, id := range ids {
		if t, ok := h.tenants[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// RemoveTenant removes id and its whole subtree. Unknown ids are ignored.
func (h *Hierarchy) RemoveTenant(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.tenants[id]; !ok {
		return
	}
	for _, d := range h.descendantIDsLocked(id) {
		h.removeLocked(d)
	}
	h.removeLocked(id)
}

// removeLocked is the single place that detaches a tenant from every index.
func (h *Hierarchy) removeLocked(id string) {
	t, ok := h.tenants[id]
	if !ok {
		return
	}
	delete(h.tenants, id)

	if t.ParentID != "" {
		siblings := slices.DeleteFunc(h.children[t.ParentID], func(c string) bool { return c == id })
		if len(siblings) == 0 {
			delete(h.children, t.ParentID)
		} else {
			h.children[t.ParentID] = siblings
		}
		if parent, ok := h.tenants[t.ParentID]; ok {
			parent.removeChild(id)
		}
	}

	level := slices.DeleteFunc(h.byLevel[t.Level], func(c string) bool { return c == id })
	if len(level) == 0 {
		delete(h.byLevel, t.Level)
	} else {
		h.byLevel[t.Level] = level
	}

	delete(h.children, id)
	if h.rootID == id {
		h.rootID = ""
	}
}

// SetStatus replaces the status of id.
func (h *Hierarchy) SetStatus(id string, status Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	t.Status = status
	return nil
}

// Count returns the number of tenants.
func (h *Hierarchy) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants)
}

// Exists reports whether id is registered.
func (h *Hierarchy) Exists(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.tenants[id]
	return ok
}

// HierarchyStats summarizes the tree.
type HierarchyStats struct {
	Total    int
	ByLevel  map[Level]int
	ByStatus map[Status]int
}

// Stats counts tenants per level and per status.
func (h *Hierarchy) Stats() HierarchyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HierarchyStats{
		Total:    len(h.tenants),
		ByLevel:  make(map[Level]int),
		ByStatus: make(map[Status]int),
	}
	for _, t := range h.tenants {
		stats.ByLevel[t.Level]++
		stats.ByStatus[t.Status]++
	}
	return stats
}

// Walk visits the tree depth-first from the root, children in insertion
// order. Returning false from fn stops the walk.
func (h *Hierarchy) Walk(fn func(t Tenant, depth int) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.rootID == "" {
		return
	}
	seen := make(map[string]bool)
	var visit func(id string, depth int) bool
	visit = func(id string, depth int) bool {
		t, ok := h.tenants[id]
		if !ok || seen[id] {
			return true
		}
		seen[id] = true
		if !fn(t.Clone(), depth) {
			return false
		}
		for _, c := range h.children[id] {
			if !visit(c, depth+1) {
				return false
			}
		}
		return true
	}
	visit(h.rootID, 0)
}

// Validate checks the structural rules that AddTenant does not enforce:
// exactly one root, every parent registered and strictly closer to the
// root than its children, and no cycles.
func (h *Hierarchy) Validate() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.rootID == "" {
		return &HierarchyError{Reason: "no root tenant"}
	}

	for _, id := range sortedKeys(h.tenants) {
		t := h.tenants[id]
		if !t.Level.Valid() {
			return &HierarchyError{TenantID: id, Reason: "invalid level " + t.Level.String()}
		}
		if t.IsRoot() {
			if id != h.rootID {
				return &HierarchyError{TenantID: id, Reason: "second root tenant"}
			}
			if t.ParentID != "" {
				return &HierarchyError{TenantID: id, Reason: "root tenant has a parent"}
			}
			continue
		}
		parent, ok := h.tenants[t.ParentID]
		if !ok {
			return &HierarchyError{TenantID: id, Reason: "parent " + t.ParentID + " not found"}
		}
		if parent.Level >= t.Level {
			return &HierarchyError{TenantID: id, Reason: "parent level " + parent.Level.String() + " is not above " + t.Level.String()}
		}
	}
	return nil
}

func sortedKeys(m map[string]*Tenant) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
