package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/pipeline"
	"github.com/platinummonkey/sitegate/pkg/policy"
	"github.com/platinummonkey/sitegate/pkg/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	filterPrefix    = "where."
)

// ListResponse is a page of module records
type ListResponse struct {
	Items  []map[string]any `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ExportResponse carries every record of an entity in a project
type ExportResponse struct {
	Entity     string           `json:"entity"`
	ProjectID  string           `json:"projectId"`
	ExportedAt time.Time        `json:"exportedAt"`
	Items      []map[string]any `json:"items"`
}

func requires(module policy.Module, permission policy.Permission) []policy.Requirement {
	return []policy.Requirement{{Module: module, Permission: permission}}
}

func redactRecords(records []store.Record, role auth.SystemRole, module policy.Module) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, policy.ApplyDataRedaction(r, role, module))
	}
	return out
}

// payload returns the request body as a record without an id
func payload(req *pipeline.Request) (store.Record, error) {
	if len(req.Body) == 0 {
		return nil, apperrors.Invalid("request body is required")
	}
	data := store.Record(req.Body).Clone()
	delete(data, store.IDField)
	return data, nil
}

func intParam(req *pipeline.Request, name string, def int) (int, error) {
	raw := req.Param(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.Invalid(fmt.Sprintf("invalid %s: %s", name, raw))
	}
	return v, nil
}

// listQuery builds a query from limit, offset, orderBy, order and where.<field>
// parameters. The tenant filter is added by the repository.
func listQuery(req *pipeline.Request) (store.Query, error) {
	limit, err := intParam(req, "limit", defaultPageSize)
	if err != nil {
		return store.Query{}, err
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := intParam(req, "offset", 0)
	if err != nil {
		return store.Query{}, err
	}

	q := store.Query{Limit: limit, Offset: offset}
	if field := req.Param("orderBy"); field != "" {
		q.OrderBy = []store.Order{{Field: field, Desc: strings.EqualFold(req.Param("order"), "desc")}}
	}
	for key, value := range req.Params {
		if field, ok := strings.CutPrefix(key, filterPrefix); ok && field != "" {
			if q.Where == nil {
				q.Where = store.Filter{}
			}
			q.Where[field] = value
		}
	}
	return q, nil
}

func (s *Server) listOp(entity string, module policy.Module) *pipeline.Operation {
	return &pipeline.Operation{
		Name:           entity + ".list",
		ResolveProject: pipeline.RequestProject(),
		Requirements:   requires(module, policy.PermissionRead),
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			q, err := listQuery(req)
			if err != nil {
				return nil, err
			}
			repo, err := sc.Repository(ctx)
			if err != nil {
				return nil, err
			}
			records, err := repo.FindMany(ctx, entity, q)
			if err != nil {
				return nil, err
			}
			total, err := repo.Count(ctx, entity, q.Where)
			if err != nil {
				return nil, err
			}
			return ListResponse{
				Items:  redactRecords(records, sc.Role(), module),
				Total:  total,
				Limit:  q.Limit,
				Offset: q.Offset,
			}, nil
		},
	}
}

func (s *Server) exportOp(entity string, module policy.Module) *pipeline.Operation {
	return &pipeline.Operation{
		Name:           entity + ".export",
		ResolveProject: pipeline.RequestProject(),
		Requirements:   requires(module, policy.PermissionExport),
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			repo, err := sc.Repository(ctx)
			if err != nil {
				return nil, err
			}
			records, err := repo.FindMany(ctx, entity, store.Query{})
			if err != nil {
				return nil, err
			}
			return ExportResponse{
				Entity:     entity,
				ProjectID:  sc.ProjectID,
				ExportedAt: s.now().UTC(),
				Items:      redactRecords(records, sc.Role(), module),
			}, nil
		},
	}
}

func (s *Server) getOp(entity string, module policy.Module) *pipeline.Operation {
	return &pipeline.Operation{
		Name:           entity + ".get",
		ResolveProject: pipeline.RequestProject(),
		Requirements:   requires(module, policy.PermissionRead),
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			repo, err := sc.Repository(ctx)
			if err != nil {
				return nil, err
			}
			record, err := repo.FindUnique(ctx, entity, req.ResourceID)
			if err != nil {
				return nil, err
			}
			return policy.ApplyDataRedaction(record, sc.Role(), module), nil
		},
	}
}

func (s *Server) createOp(entity string, module policy.Module) *pipeline.Operation {
	return &pipeline.Operation{
		Name:           entity + ".create",
		ResolveProject: pipeline.RequestProject(),
		Requirements:   requires(module, policy.PermissionWrite),
		SuccessStatus:  http.StatusCreated,
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			data, err := payload(req)
			if err != nil {
				return nil, err
			}
			repo, err := sc.Repository(ctx)
			if err != nil {
				return nil, err
			}
			created, err := repo.Create(ctx, entity, data)
			if err != nil {
				return nil, err
			}
			return policy.ApplyDataRedaction(created, sc.Role(), module), nil
		},
	}
}

func (s *Server) updateOp(entity string, module policy.Module) *pipeline.Operation {
	return &pipeline.Operation{
		Name:           entity + ".update",
		ResolveProject: pipeline.ResourceProject(s.store, entity),
		Requirements:   requires(module, policy.PermissionWrite),
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			data, err := payload(req)
			if err != nil {
				return nil, err
			}
			repo, err := sc.Repository(ctx)
			if err != nil {
				return nil, err
			}
			updated, err := repo.Update(ctx, entity, req.ResourceID, data)
			if err != nil {
				return nil, err
			}
			return policy.ApplyDataRedaction(updated, sc.Role(), module), nil
		},
	}
}

func (s *Server) deleteOp(entity string, module policy.Module) *pipeline.Operation {
	return &pipeline.Operation{
		Name:           entity + ".delete",
		ResolveProject: pipeline.ResourceProject(s.store, entity),
		Requirements:   requires(module, policy.PermissionDelete),
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			repo, err := sc.Repository(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := repo.Delete(ctx, entity, req.ResourceID); err != nil {
				return nil, err
			}
			return map[string]any{"id": req.ResourceID, "deleted": true}, nil
		},
	}
}

func (s *Server) approveOp(entity string, module policy.Module) *pipeline.Operation {
	return &pipeline.Operation{
		Name:           entity + ".approve",
		ResolveProject: pipeline.ResourceProject(s.store, entity),
		Requirements:   requires(module, policy.PermissionApprove),
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			repo, err := sc.Repository(ctx)
			if err != nil {
				return nil, err
			}
			approved, err := repo.Update(ctx, entity, req.ResourceID, store.Record{
				"status":     "APPROVED",
				"approvedBy": sc.Principal.ID,
				"approvedAt": s.now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				return nil, err
			}
			return policy.ApplyDataRedaction(approved, sc.Role(), module), nil
		},
	}
}
