package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/pipeline"
	"github.com/platinummonkey/sitegate/pkg/policy"
)

// PermissionsResponse lists the caller's effective permissions in a project
type PermissionsResponse struct {
	ProjectID    string                                `json:"projectId"`
	Role         auth.SystemRole                       `json:"role"`
	Modules      map[policy.Module][]policy.Permission `json:"modules"`
	AccessWindow *policy.AccessWindow                  `json:"accessWindow,omitempty"`
}

// AddMemberRequest is the body of a membership creation
type AddMemberRequest struct {
	UserID       string               `json:"userId"`
	Role         auth.SystemRole      `json:"role"`
	AccessWindow *policy.AccessWindow `json:"accessWindow,omitempty"`
}

// ModuleFlagsRequest is the body of a module access grant
type ModuleFlagsRequest struct {
	CanView    bool `json:"canView"`
	CanEdit    bool `json:"canEdit"`
	CanUpload  bool `json:"canUpload"`
	CanRequest bool `json:"canRequest"`
}

// ChangeRoleRequest is the body of a system role change
type ChangeRoleRequest struct {
	Role auth.SystemRole `json:"role"`
}

// bindBody decodes the already-parsed request body into dest
func bindBody(req *pipeline.Request, dest any) error {
	if len(req.Body) == 0 {
		return apperrors.Invalid("request body is required")
	}
	data, err := json.Marshal(req.Body)
	if err != nil {
		return apperrors.Invalid("invalid request body")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.Invalid(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func (s *Server) permissionsOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name:           "permissions.get",
		ResolveProject: pipeline.RequestProject(),
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			modules, err := s.engine.GetEffectivePermissions(ctx, sc.Principal.ID, sc.ProjectID)
			if err != nil {
				return nil, err
			}
			return PermissionsResponse{
				ProjectID:    sc.ProjectID,
				Role:         sc.Role(),
				Modules:      modules,
				AccessWindow: sc.Membership.AccessWindow,
			}, nil
		},
	}
}

// Administration operations are not project resolved by the pipeline:
// policy.Admin authorizes project admins and system admins itself, and a
// system admin need not be a member of the project.

func (s *Server) addMemberOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name:          "members.add",
		SuccessStatus: http.StatusCreated,
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			var body AddMemberRequest
			if err := bindBody(req, &body); err != nil {
				return nil, err
			}
			return s.admin.AddMember(ctx, sc.Principal.ID, req.ProjectID, body.UserID, body.Role, body.AccessWindow)
		},
	}
}

func (s *Server) removeMemberOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "members.remove",
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			userID := req.Param("userId")
			if err := s.admin.RemoveMember(ctx, sc.Principal.ID, req.ProjectID, userID); err != nil {
				return nil, err
			}
			return map[string]any{"projectId": req.ProjectID, "userId": userID, "removed": true}, nil
		},
	}
}

func (s *Server) grantModuleOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "members.grant_module",
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			module, err := policy.ParseModule(req.Param("module"))
			if err != nil {
				return nil, apperrors.Invalid(err.Error())
			}
			var flags ModuleFlagsRequest
			if err := bindBody(req, &flags); err != nil {
				return nil, err
			}
			access := policy.ModuleAccess{
				UserID:     req.Param("userId"),
				ProjectID:  req.ProjectID,
				Module:     module,
				CanView:    flags.CanView,
				CanEdit:    flags.CanEdit,
				CanUpload:  flags.CanUpload,
				CanRequest: flags.CanRequest,
			}
			if err := s.admin.GrantModuleAccess(ctx, sc.Principal.ID, access); err != nil {
				return nil, err
			}
			return access, nil
		},
	}
}

func (s *Server) applyPresetOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "members.apply_preset",
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			return s.admin.ApplyPreset(ctx, sc.Principal.ID, req.ProjectID, req.Param("userId"), req.Param("preset"))
		},
	}
}

func (s *Server) listPresetsOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name:         "presets.list",
		AllowedRoles: []auth.SystemRole{auth.RoleAdmin, auth.RoleStaff},
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			return map[string]any{"presets": s.admin.Catalog().Names()}, nil
		},
	}
}

func (s *Server) changeRoleOp() *pipeline.Operation {
	return &pipeline.Operation{
		Name:         "users.change_role",
		AllowedRoles: []auth.SystemRole{auth.RoleAdmin},
		Handler: func(ctx context.Context, sc *pipeline.SecurityContext, req *pipeline.Request) (any, error) {
			var body ChangeRoleRequest
			if err := bindBody(req, &body); err != nil {
				return nil, err
			}
			userID := req.Param("userId")
			if err := s.provisioner.ChangeRole(ctx, sc.Principal, userID, body.Role); err != nil {
				return nil, err
			}

			entry := audit.NewEntry(sc.Principal.ID, "", audit.ActionRoleChange, "user", userID).
				WithMeta("role", string(body.Role))
			if err := s.audit.Write(ctx, entry); err != nil {
				observability.FromContext(ctx).WithError(err).WithField("user_id", userID).Error("Failed to write audit entry")
			}
			return map[string]any{"userId": userID, "role": body.Role}, nil
		},
	}
}
