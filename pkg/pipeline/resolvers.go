package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/repository"
	"github.com/platinummonkey/sitegate/pkg/store"
)

// RequestProject resolves the project from the request-bound parameter.
// Used for read-style calls.
func RequestProject() ProjectResolver {
	return func(ctx context.Context, req *Request) (string, error) {
		if strings.TrimSpace(req.ProjectID) == "" {
			return "", apperrors.Invalid("project id is required")
		}
		return req.ProjectID, nil
	}
}

// ResourceProject resolves the project from the stored record a mutation
// targets. Any client-supplied project id is ignored.
func ResourceProject(s store.Store, entity string) ProjectResolver {
	return ResourceProjectField(s, entity, repository.DefaultTenantField)
}

// ResourceProjectField is ResourceProject with an explicit tenant field
func ResourceProjectField(s store.Store, entity, tenantField string) ProjectResolver {
	return func(ctx context.Context, req *Request) (string, error) {
		if strings.TrimSpace(req.ResourceID) == "" {
			return "", apperrors.Invalid("resource id is required")
		}
		record, err := s.FindUnique(ctx, entity, req.ResourceID)
		if errors.Is(err, store.ErrNotFound) {
			return "", apperrors.NotFound("record not found")
		}
		if errors.Is(err, store.ErrInvalidIdentifier) {
			return "", apperrors.Invalid(err.Error())
		}
		if err != nil {
			return "", apperrors.Internal("resolve resource project", err)
		}
		project, ok := record[tenantField]
		if !ok || project == nil || fmt.Sprint(project) == "" {
			return "", apperrors.NotFound("record not found")
		}
		return fmt.Sprint(project), nil
	}
}
