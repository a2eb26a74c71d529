package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/routesphere/internal/app"
	"github.com/neomorfeo/routesphere/internal/domain"
)

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID         string            `json:"id" doc:"Unique identifier"`
	Name       string            `json:"name" doc:"Display name"`
	Level      string            `json:"level" doc:"Hierarchy level"`
	ParentID   string            `json:"parentId,omitempty" doc:"Parent tenant, empty for the root"`
	ChildIDs   []string          `json:"childIds" doc:"Direct children"`
	Status     string            `json:"status" doc:"Operational state"`
	Properties map[string]string `json:"properties" doc:"Rule and routing properties"`
}

func toTenantResponse(t domain.Tenant) TenantResponse {
	children := t.ChildIDs
	if children == nil {
		children = []string{}
	}
	props := t.Properties
	if props == nil {
		props = map[string]string{}
	}
	return TenantResponse{
		ID:         t.ID,
		Name:       t.Name,
		Level:      t.Level.String(),
		ParentID:   t.ParentID,
		ChildIDs:   children,
		Status:     string(t.Status),
		Properties: props,
	}
}

func toTenantResponses(ts []domain.Tenant) []TenantResponse {
	out := make([]TenantResponse, len(ts))
	for i, t := range ts {
		out[i] = toTenantResponse(t)
	}
	return out
}

// --- Create Tenant ---

type CreateTenantInput struct {
	Body struct {
		ID         string            `json:"id" minLength:"1" maxLength:"100" pattern:"^[a-zA-Z0-9][a-zA-Z0-9_-]*$" doc:"Unique identifier"`
		Name       string            `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		Level      string            `json:"level" enum:"ROOT,RESELLER_L1,RESELLER_L2,RESELLER_L3,RESELLER_L4,RESELLER_L5,END_USER" doc:"Hierarchy level"`
		ParentID   string            `json:"parentId,omitempty" doc:"Parent tenant"`
		Properties map[string]string `json:"properties,omitempty" doc:"Rule and routing properties"`
	}
}

type TenantOutput struct {
	Body TenantResponse
}

// --- Get Tenant ---

type TenantIDInput struct {
	ID string `path:"id" doc:"Tenant ID"`
}

type TenantListOutput struct {
	Body []TenantResponse
}

// --- By Level ---

type LevelInput struct {
	Level string `path:"level" enum:"ROOT,RESELLER_L1,RESELLER_L2,RESELLER_L3,RESELLER_L4,RESELLER_L5,END_USER" doc:"Hierarchy level"`
}

// --- Stats ---

type StatsOutput struct {
	Body struct {
		Total    int            `json:"total" doc:"Number of tenants"`
		ByLevel  map[string]int `json:"byLevel" doc:"Tenants per level"`
		ByStatus map[string]int `json:"byStatus" doc:"Tenants per status"`
	}
}

// --- Tree ---

// TreeNode is a tenant with its depth below the root.
type TreeNode struct {
	TenantResponse
	Depth int `json:"depth" doc:"Distance from the root"`
}

type TreeOutput struct {
	Body []TreeNode
}

// --- Transition ---

type TransitionInput struct {
	ID   string `path:"id" doc:"Tenant ID"`
	Body struct {
		Event string `json:"event" doc:"Status event to trigger" enum:"activate,suspend,reactivate,deactivate"`
	}
}

// Register adds all tenant API routes to the Huma API.
func Register(api huma.API, svc *app.TenantService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants",
		Summary:     "Create a tenant under an existing parent",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *CreateTenantInput) (*TenantOutput, error) {
		level, err := domain.ParseLevel(input.Body.Level)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		t := domain.NewTenant(input.Body.ID, input.Body.Name, level, input.Body.ParentID)
		for k, v := range input.Body.Properties {
			t.Properties[k] = v
		}
		tenant, err := svc.Create(ctx, t)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tenant-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/stats",
		Summary:     "Count tenants per level and status",
		Tags:        []string{"Tenants"},
	}, func(_ context.Context, _ *struct{}) (*StatsOutput, error) {
		stats := svc.Stats()
		out := &StatsOutput{}
		out.Body.Total = stats.Total
		out.Body.ByLevel = make(map[string]int, len(stats.ByLevel))
		for l, n := range stats.ByLevel {
			out.Body.ByLevel[l.String()] = n
		}
		out.Body.ByStatus = make(map[string]int, len(stats.ByStatus))
		for s, n := range stats.ByStatus {
			out.Body.ByStatus[string(s)] = n
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tenant-tree",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/tree",
		Summary:     "List the hierarchy depth-first from the root",
		Tags:        []string{"Tenants"},
	}, func(_ context.Context, _ *struct{}) (*TreeOutput, error) {
		entries := svc.Tree()
		out := make([]TreeNode, len(entries))
		for i, e := range entries {
			out[i] = TreeNode{TenantResponse: toTenantResponse(e.Tenant), Depth: e.Depth}
		}
		return &TreeOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tenants-by-level",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/level/{level}",
		Summary:     "List tenants at a level",
		Tags:        []string{"Tenants"},
	}, func(_ context.Context, input *LevelInput) (*TenantListOutput, error) {
		level, err := domain.ParseLevel(input.Level)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return &TenantListOutput{Body: toTenantResponses(svc.ByLevel(level))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        []string{"Tenants"},
	}, func(_ context.Context, input *TenantIDInput) (*TenantOutput, error) {
		tenant, err := svc.Tenant(input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-tenant",
		Method:      http.MethodDelete,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Remove a tenant and everything below it",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDInput) (*TenantListOutput, error) {
		removed, err := svc.Remove(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantListOutput{Body: toTenantResponses(removed)}, nil
	})

	registerTenantList(api, "tenant-path", "/api/v1/tenants/{id}/path",
		"Tenants from the root down to this one", svc.Path)
	registerTenantList(api, "tenant-ancestors", "/api/v1/tenants/{id}/ancestors",
		"Ancestors from the parent up to the root", svc.Ancestors)
	registerTenantList(api, "tenant-descendants", "/api/v1/tenants/{id}/descendants",
		"Every tenant below this one", svc.Descendants)

	huma.Register(api, huma.Operation{
		OperationID: "transition-tenant",
		Method:      http.MethodPost,
		Path:        "/api/v1/tenants/{id}/events",
		Summary:     "Trigger a status event",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TransitionInput) (*TenantOutput, error) {
		tenant, err := svc.Transition(ctx, input.ID, domain.Event(input.Body.Event))
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})
}

func registerTenantList(api huma.API, id, path, summary string, list func(string) ([]domain.Tenant, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodGet,
		Path:        path,
		Summary:     summary,
		Tags:        []string{"Tenants"},
	}, func(_ context.Context, input *TenantIDInput) (*TenantListOutput, error) {
		tenants, err := list(input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantListOutput{Body: toTenantResponses(tenants)}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrTenantNotFound) {
		return huma.Error404NotFound("tenant not found")
	}
	if errors.Is(err, domain.ErrChannelNotFound) {
		return huma.Error404NotFound("channel not found")
	}

	var dupErr *domain.DuplicateTenantError
	if errors.As(err, &dupErr) {
		return huma.Error409Conflict(dupErr.Error())
	}

	var trErr *domain.TransitionError[domain.Status, domain.Event]
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	var hErr *domain.HierarchyError
	if errors.As(err, &hErr) {
		return huma.Error422UnprocessableEntity(hErr.Error())
	}

	var protoErr *domain.UnknownProtocolError
	if errors.As(err, &protoErr) {
		return huma.Error400BadRequest(protoErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
