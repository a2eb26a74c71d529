package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// RootTenantID is the id of the tenant seeded into an empty store.
const RootTenantID = "root"

// TenantService keeps the in-memory hierarchy and the tenant store in step.
type TenantService struct {
	hierarchy *domain.Hierarchy
	repo      domain.TenantRepository
	publisher domain.EventPublisher
	validator domain.TransitionValidator[domain.Status, domain.Event]
	logger    *slog.Logger

	// writes serializes Create, Transition and Remove.
	writes sync.Mutex
}

// NewTenantService creates a service with the given adapters.
func NewTenantService(
	hierarchy *domain.Hierarchy,
	repo domain.TenantRepository,
	publisher domain.EventPublisher,
	validator domain.TransitionValidator[domain.Status, domain.Event],
	logger *slog.Logger,
) *TenantService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{
		hierarchy: hierarchy,
		repo:      repo,
		publisher: publisher,
		validator: validator,
		logger:    logger,
	}
}

// Hierarchy returns the hierarchy the service maintains.
func (s *TenantService) Hierarchy() *domain.Hierarchy { return s.hierarchy }

// Bootstrap loads every stored tenant into the hierarchy and validates the
// result. An empty store is seeded with an active root tenant.
func (s *TenantService) Bootstrap(ctx context.Context) error {
	tenants, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}

	if len(tenants) == 0 {
		root := domain.NewTenant(RootTenantID, "Root", domain.LevelRoot, "")
		root.Status = domain.StatusActive
		if err := s.repo.Save(ctx, root); err != nil {
			return fmt.Errorf("seeding root tenant: %w", err)
		}
		s.logger.InfoContext(ctx, "seeded root tenant", "tenant_id", root.ID)
		tenants = []domain.Tenant{root}
	}

	for _, t := range tenants {
		if err := s.hierarchy.AddTenant(t); err != nil {
			return fmt.Errorf("loading tenant %s: %w", t.ID, err)
		}
	}
	if err := s.hierarchy.Validate(); err != nil {
		return fmt.Errorf("validating hierarchy: %w", err)
	}

	s.logger.InfoContext(ctx, "tenant hierarchy loaded", "tenants", s.hierarchy.Count())
	return nil
}

// Create stores a new tenant below its parent. The tenant starts PENDING
// unless a status is given.
func (s *TenantService) Create(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	s.writes.Lock()
	defer s.writes.Unlock()

	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	t.ChildIDs = nil
	if err := s.checkPlacement(t); err != nil {
		return domain.Tenant{}, err
	}

	if err := s.repo.Save(ctx, t); err != nil {
		return domain.Tenant{}, fmt.Errorf("saving tenant: %w", err)
	}
	if err := s.hierarchy.AddTenant(t); err != nil {
		return domain.Tenant{}, err
	}

	stored, _ := s.hierarchy.Tenant(t.ID)
	return stored, nil
}

func (s *TenantService) checkPlacement(t domain.Tenant) error {
	if t.ID == "" {
		return &domain.HierarchyError{Reason: "tenant id is required"}
	}
	if !t.Level.Valid() {
		return &domain.HierarchyError{TenantID: t.ID, Reason: "invalid level " + t.Level.String()}
	}
	if s.hierarchy.Exists(t.ID) {
		return &domain.DuplicateTenantError{ID: t.ID}
	}
	if t.IsRoot() {
		if _, ok := s.hierarchy.Root(); ok {
			return &domain.HierarchyError{TenantID: t.ID, Reason: "second root tenant"}
		}
		if t.ParentID != "" {
			return &domain.HierarchyError{TenantID: t.ID, Reason: "root tenant has a parent"}
		}
		return nil
	}
	parent, ok := s.hierarchy.Tenant(t.ParentID)
	if !ok {
		return &domain.HierarchyError{TenantID: t.ID, Reason: "parent " + t.ParentID + " not found"}
	}
	if parent.Level >= t.Level {
		return &domain.HierarchyError{TenantID: t.ID, Reason: "parent level " + parent.Level.String() + " is not above " + t.Level.String()}
	}
	return nil
}

// Transition applies a status event to a tenant.
func (s *TenantService) Transition(ctx context.Context, id string, event domain.Event) (domain.Tenant, error) {
	s.writes.Lock()
	defer s.writes.Unlock()

	tenant, err := s.Tenant(id)
	if err != nil {
		return domain.Tenant{}, err
	}

	newStatus, err := s.validator.Apply(ctx, tenant.Status, event)
	if err != nil {
		return domain.Tenant{}, err
	}

	if err := s.repo.UpdateStatus(ctx, id, newStatus); err != nil {
		return domain.Tenant{}, fmt.Errorf("updating tenant: %w", err)
	}
	if err := s.hierarchy.SetStatus(id, newStatus); err != nil {
		return domain.Tenant{}, err
	}
	tenant.Status = newStatus

	if err := s.publisher.Publish(ctx, event, tenant); err != nil {
		return domain.Tenant{}, fmt.Errorf("publishing event %q: %w", event, err)
	}

	s.logger.InfoContext(ctx, "tenant status changed",
		"tenant_id", id, "event", string(event), "status", string(newStatus))
	return tenant, nil
}

// Remove deletes id and every tenant below it, from the store first and
// then from the hierarchy, and publishes a remove event for each. The root
// tenant cannot be removed. It returns the removed tenants, id first.
func (s *TenantService) Remove(ctx context.Context, id string) ([]domain.Tenant, error) {
	s.writes.Lock()
	defer s.writes.Unlock()

	tenant, err := s.Tenant(id)
	if err != nil {
		return nil, err
	}
	if root, ok := s.hierarchy.Root(); ok && root.ID == id {
		return nil, &domain.HierarchyError{TenantID: id, Reason: "root tenant cannot be removed"}
	}

	removed := append([]domain.Tenant{tenant}, s.hierarchy.Descendants(id)...)
	ids := make([]string, len(removed))
	for i, t := range removed {
		ids[i] = t.ID
	}
	if err := s.repo.Delete(ctx, ids...); err != nil {
		return nil, fmt.Errorf("deleting tenants: %w", err)
	}
	s.hierarchy.RemoveTenant(id)

	var errs []error
	for _, t := range removed {
		if err := s.publisher.Publish(ctx, domain.EventRemove, t); err != nil {
			errs = append(errs, fmt.Errorf("publishing removal of %s: %w", t.ID, err))
		}
	}
	s.logger.InfoContext(ctx, "tenant removed", "tenant_id", id, "removed", len(removed))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return removed, nil
}

// Tenant returns the tenant with the given id.
func (s *TenantService) Tenant(id string) (domain.Tenant, error) {
	t, ok := s.hierarchy.Tenant(id)
	if !ok {
		return domain.Tenant{}, fmt.Errorf("%s: %w", id, domain.ErrTenantNotFound)
	}
	return t, nil
}

// Path returns the tenants from the root down to id.
func (s *TenantService) Path(id string) ([]domain.Tenant, error) {
	if !s.hierarchy.Exists(id) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrTenantNotFound)
	}
	return s.hierarchy.PathFromRoot(id), nil
}

// Ancestors returns the ancestors of id, nearest first.
func (s *TenantService) Ancestors(id string) ([]domain.Tenant, error) {
	if !s.hierarchy.Exists(id) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrTenantNotFound)
	}
	return s.hierarchy.Ancestors(id), nil
}

// Descendants returns every tenant below id, breadth first.
func (s *TenantService) Descendants(id string) ([]domain.Tenant, error) {
	if !s.hierarchy.Exists(id) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrTenantNotFound)
	}
	return s.hierarchy.Descendants(id), nil
}

// ByLevel returns the tenants at level.
func (s *TenantService) ByLevel(level domain.Level) []domain.Tenant {
	return s.hierarchy.TenantsByLevel(level)
}

// Stats summarizes the hierarchy.
func (s *TenantService) Stats() domain.HierarchyStats {
	return s.hierarchy.Stats()
}

// TreeEntry is one tenant of the hierarchy with its distance from the root.
type TreeEntry struct {
	Tenant domain.Tenant
	Depth  int
}

// Tree lists the hierarchy depth-first from the root.
func (s *TenantService) Tree() []TreeEntry {
	var out []TreeEntry
	s.hierarchy.Walk(func(t domain.Tenant, depth int) bool {
		out = append(out, TreeEntry{Tenant: t, Depth: depth})
		return true
	})
	return out
}
