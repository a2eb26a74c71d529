package pipeline

import (
	"context"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Authenticator verifies a credential presented in the Authorization
// header on behalf of a tenant.
type Authenticator interface {
	Authenticate(ctx context.Context, tenant domain.Tenant, credential string) (bool, error)
}

// Admission authenticates and authorizes a request.
//
// A request is authenticated when it carries an Authorization header
// (checked by the Authenticator when one is configured) or when its tenant
// is ACTIVE. Authorization currently follows authentication.
type Admission struct {
	auth Authenticator
}

// NewAdmission creates the processor. auth may be nil.
func NewAdmission(auth Authenticator) *Admission {
	return &Admission{auth: auth}
}

func (p *Admission) Name() string { return "admission" }
func (p *Admission) Order() int   { return 200 }

func (p *Admission) Process(ctx context.Context, rc *domain.RoutingContext) (bool, error) {
	if err := rc.MoveTo(domain.StageAdmissionAuth); err != nil {
		return false, err
	}

	ok, err := p.authenticate(ctx, rc)
	if err != nil {
		return false, err
	}
	rc.SetAuthenticated(ok)
	if !ok {
		rc.Fail(domain.RejectedResponse(401, "Authentication failed"))
		return false, nil
	}

	if err := rc.MoveTo(domain.StageAdmissionAuthz); err != nil {
		return false, err
	}
	rc.SetAuthorized(rc.Authenticated())
	if !rc.Authorized() {
		rc.Fail(domain.RejectedResponse(403, "Authorization failed"))
		return false, nil
	}
	return true, nil
}

func (p *Admission) authenticate(ctx context.Context, rc *domain.RoutingContext) (bool, error) {
	tenant, hasTenant := rc.Tenant()

	if credential, present := rc.Request().Header("Authorization"); present {
		if p.auth == nil || !hasTenant {
			return true, nil
		}
		return p.auth.Authenticate(ctx, tenant, credential)
	}
	return hasTenant && tenant.IsActive(), nil
}
