package pipeline

import (
	"context"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// DefaultTenantID is used when a request names no tenant.
const DefaultTenantID = "root"

// TenantIdentification resolves the tenant a request belongs to and records
// every tenant on its path as tenant.<LEVEL>.id / tenant.<LEVEL>.name
// attributes.
type TenantIdentification struct {
	hierarchy     *domain.Hierarchy
	defaultTenant string
}

// NewTenantIdentification creates the processor. Requests without a tenant
// are attributed to DefaultTenantID.
func NewTenantIdentification(hierarchy *domain.Hierarchy) *TenantIdentification {
	return &TenantIdentification{hierarchy: hierarchy, defaultTenant: DefaultTenantID}
}

// WithDefaultTenant overrides the tenant used for anonymous requests.
func (p *TenantIdentification) WithDefaultTenant(id string) *TenantIdentification {
	if id != "" {
		p.defaultTenant = id
	}
	return p
}

func (p *TenantIdentification) Name() string { return "tenant-identification" }
func (p *TenantIdentification) Order() int   { return 100 }

func (p *TenantIdentification) Process(_ context.Context, rc *domain.RoutingContext) (bool, error) {
	if err := rc.MoveTo(domain.StageTenantIdentification); err != nil {
		return false, err
	}

	id := rc.Request().TenantID()
	if id == "" {
		id = p.defaultTenant
	}

	tenant, ok := p.hierarchy.Tenant(id)
	if !ok {
		rc.Fail(domain.RejectedResponse(404, "Tenant not found: "+id))
		return false, nil
	}
	if !tenant.IsActive() {
		rc.Fail(domain.RejectedResponse(403, "Tenant is not active: "+id))
		return false, nil
	}

	rc.SetTenant(tenant)
	for _, t := range p.hierarchy.PathFromRoot(id) {
		prefix := "tenant." + t.Level.String()
		rc.SetAttribute(prefix+".id", t.ID)
		rc.SetAttribute(prefix+".name", t.Name)
	}
	return true, nil
}
