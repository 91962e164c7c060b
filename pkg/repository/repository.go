package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/store"
)

// DefaultTenantField is the record field holding the owning project id
const DefaultTenantField = "projectId"

// tenantColumn matches the tenant column in raw SQL, camel or snake case
var tenantColumn = regexp.MustCompile(`(?i)\bproject_?id\b`)

// tenantKey matches a result column that carries the tenant
var tenantKey = regexp.MustCompile(`(?i)^project_?id$`)

// Scope binds a repository to one project of one caller
type Scope struct {
	UserID         string
	ProjectID      string
	CallerProjects []string
}

// Repository confines every store operation to a single project. Reads are
// filtered and then re-validated record by record; writes re-fetch and
// validate before mutating; every mutation is audited.
type Repository struct {
	store       store.Store
	scope       Scope
	sink        audit.Sink
	logger      *observability.Logger
	tenantField string
	global      map[string]bool

	// pending collects audit entries inside a transaction until commit
	pending *[]*audit.Entry
}

// Option configures a Repository
type Option func(*Repository)

// WithTenantField overrides the tenant field name
func WithTenantField(field string) Option {
	return func(r *Repository) {
		if field != "" {
			r.tenantField = field
		}
	}
}

// WithGlobalEntities marks entities that are not project scoped
func WithGlobalEntities(entities ...string) Option {
	return func(r *Repository) {
		for _, e := range entities {
			r.global[e] = true
		}
	}
}

// WithLogger sets the repository logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a repository for scope. It fails unless the scoped project is
// one of the caller's projects.
func New(s store.Store, scope Scope, sink audit.Sink, opts ...Option) (*Repository, error) {
	if strings.TrimSpace(scope.UserID) == "" || strings.TrimSpace(scope.ProjectID) == "" {
		return nil, apperrors.Invalid("repository scope requires user id and project id")
	}
	allowed := false
	for _, p := range scope.CallerProjects {
		if p == scope.ProjectID {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperrors.Forbidden(apperrors.CodeProjectNotAccessible, "project is not accessible to the caller")
	}
	if sink == nil {
		sink = audit.NoOpSink{}
	}

	r := &Repository{
		store:       s,
		scope:       scope,
		sink:        sink,
		logger:      observability.NewNopLogger(),
		tenantField: DefaultTenantField,
		global:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ProjectID returns the scoped project
func (r *Repository) ProjectID() string {
	return r.scope.ProjectID
}

// TenantField returns the name of the tenant field
func (r *Repository) TenantField() string {
	return r.tenantField
}

func (r *Repository) scoped(entity string) bool {
	return !r.global[entity]
}

// scopeFilter returns a copy of where with the tenant field forced to the scope
func (r *Repository) scopeFilter(entity string, where store.Filter) store.Filter {
	if !r.scoped(entity) {
		return where
	}
	f := where.Clone()
	f[r.tenantField] = r.scope.ProjectID
	return f
}

// owned reports whether record belongs to the scoped project
func (r *Repository) owned(record store.Record) bool {
	v, ok := record[r.tenantField]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == r.scope.ProjectID
}

func (r *Repository) mismatch(entity string, record store.Record) error {
	r.logger.WithFields(map[string]interface{}{
		"entity":     entity,
		"entity_id":  record.ID(),
		"project_id": r.scope.ProjectID,
		"user_id":    r.scope.UserID,
	}).Warn("Tenant mismatch on fetched record")
	return apperrors.Forbidden(apperrors.CodeTenantMismatch, "record does not belong to this project")
}

func (r *Repository) validate(entity string, records ...store.Record) error {
	if !r.scoped(entity) {
		return nil
	}
	for _, rec := range records {
		if !r.owned(rec) {
			return r.mismatch(entity, rec)
		}
	}
	return nil
}

func storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound("record not found")
	}
	if errors.Is(err, store.ErrInvalidIdentifier) {
		return apperrors.Invalid(err.Error())
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Internal(op, err)
}

// FindMany returns matching records of the scoped project
func (r *Repository) FindMany(ctx context.Context, entity string, q store.Query) ([]store.Record, error) {
	q.Where = r.scopeFilter(entity, q.Where)
	records, err := r.store.FindMany(ctx, entity, q)
	if err != nil {
		return nil, storeError("find records", err)
	}
	if err := r.validate(entity, records...); err != nil {
		return nil, err
	}
	return records, nil
}

// FindFirst returns the first matching record of the scoped project
func (r *Repository) FindFirst(ctx context.Context, entity string, q store.Query) (store.Record, error) {
	q.Where = r.scopeFilter(entity, q.Where)
	record, err := r.store.FindFirst(ctx, entity, q)
	if err != nil {
		return nil, storeError("find record", err)
	}
	if err := r.validate(entity, record); err != nil {
		return nil, err
	}
	return record, nil
}

// FindUnique looks a record up by id. Primary key lookups bypass the filter,
// so ownership is always validated after the fetch.
func (r *Repository) FindUnique(ctx context.Context, entity, id string) (store.Record, error) {
	record, err := r.store.FindUnique(ctx, entity, id)
	if err != nil {
		return nil, storeError("find record", err)
	}
	if err := r.validate(entity, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Count counts matching records of the scoped project
func (r *Repository) Count(ctx context.Context, entity string, where store.Filter) (int, error) {
	n, err := r.store.Count(ctx, entity, r.scopeFilter(entity, where))
	if err != nil {
		return 0, storeError("count records", err)
	}
	return n, nil
}

// Aggregate computes aggregates over the scoped project's records
func (r *Repository) Aggregate(ctx context.Context, entity string, where store.Filter, aggs []store.Aggregation) (map[string]float64, error) {
	out, err := r.store.Aggregate(ctx, entity, r.scopeFilter(entity, where), aggs)
	if err != nil {
		return nil, storeError("aggregate records", err)
	}
	return out, nil
}

// GroupBy groups the scoped project's records
func (r *Repository) GroupBy(ctx context.Context, entity string, by []string, where store.Filter, aggs []store.Aggregation) ([]store.Group, error) {
	groups, err := r.store.GroupBy(ctx, entity, by, r.scopeFilter(entity, where), aggs)
	if err != nil {
		return nil, storeError("group records", err)
	}
	if r.scoped(entity) {
		for _, g := range groups {
			if v, ok := g.Key[r.tenantField]; ok && fmt.Sprint(v) != r.scope.ProjectID {
				return nil, r.mismatch(entity, g.Key)
			}
		}
	}
	return groups, nil
}

// Create stamps the scoped project onto data, ignoring any supplied value,
// persists it and audits the creation.
func (r *Repository) Create(ctx context.Context, entity string, data store.Record) (store.Record, error) {
	payload := data.Clone()
	if payload == nil {
		payload = store.Record{}
	}
	if r.scoped(entity) {
		payload[r.tenantField] = r.scope.ProjectID
	}

	created, err := r.store.Create(ctx, entity, payload)
	if err != nil {
		return nil, storeError("create record", err)
	}
	if err := r.validate(entity, created); err != nil {
		return nil, err
	}

	r.record(ctx, audit.NewEntry(r.scope.UserID, r.scope.ProjectID, audit.ActionCreate, entity, created.ID()))
	return created, nil
}

// Update re-fetches and validates the record before applying data. The
// tenant field cannot be moved to another project.
func (r *Repository) Update(ctx context.Context, entity, id string, data store.Record) (store.Record, error) {
	if _, err := r.FindUnique(ctx, entity, id); err != nil {
		return nil, err
	}

	patch := data.Clone()
	if patch == nil {
		patch = store.Record{}
	}
	if r.scoped(entity) {
		patch[r.tenantField] = r.scope.ProjectID
	}

	updated, err := r.store.Update(ctx, entity, id, patch)
	if err != nil {
		return nil, storeError("update record", err)
	}

	entry := audit.NewEntry(r.scope.UserID, r.scope.ProjectID, audit.ActionUpdate, entity, id)
	entry.WithMeta("fields", changedFields(data, r.tenantField))
	r.record(ctx, entry)
	return updated, nil
}

// Delete re-fetches and validates the record before removing it
func (r *Repository) Delete(ctx context.Context, entity, id string) (store.Record, error) {
	if _, err := r.FindUnique(ctx, entity, id); err != nil {
		return nil, err
	}

	deleted, err := r.store.Delete(ctx, entity, id)
	if err != nil {
		return nil, storeError("delete record", err)
	}

	r.record(ctx, audit.NewEntry(r.scope.UserID, r.scope.ProjectID, audit.ActionDelete, entity, id))
	return deleted, nil
}

// ExecRaw runs raw SQL only if it references the tenant column. The project
// id is appended to args when no argument already carries it. Returned rows
// that carry a tenant column must belong to the scoped project.
func (r *Repository) ExecRaw(ctx context.Context, query string, args ...any) ([]store.Record, error) {
	if !tenantColumn.MatchString(query) {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeUnscopedRawQuery,
			"raw query must reference the project id column")
	}

	params := append([]any(nil), args...)
	present := false
	for _, a := range params {
		if s, ok := a.(string); ok && s == r.scope.ProjectID {
			present = true
			break
		}
	}
	if !present {
		params = append(params, r.scope.ProjectID)
	}

	records, err := r.store.ExecRaw(ctx, query, params...)
	if err != nil {
		return nil, storeError("raw query", err)
	}
	if err := r.validateRaw(records); err != nil {
		return nil, err
	}
	return records, nil
}

// validateRaw checks every tenant column of raw result rows. Rows without
// one, such as aggregates, pass.
func (r *Repository) validateRaw(records []store.Record) error {
	for _, rec := range records {
		for k, v := range rec {
			if k != r.tenantField && !tenantKey.MatchString(k) {
				continue
			}
			if v == nil || fmt.Sprint(v) != r.scope.ProjectID {
				return r.mismatch("raw", rec)
			}
		}
	}
	return nil
}

// Transaction runs fn against a repository bound to a store transaction.
// Audit entries produced inside fn are written only after commit.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	if r.pending != nil {
		return fn(r)
	}

	var pending []*audit.Entry
	err := r.store.WithTx(ctx, func(txStore store.Store) error {
		txRepo := *r
		txRepo.store = txStore
		txRepo.pending = &pending
		return fn(&txRepo)
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.Internal("transaction", err)
	}

	for _, entry := range pending {
		r.write(ctx, entry)
	}
	return nil
}

func (r *Repository) record(ctx context.Context, entry *audit.Entry) {
	if r.pending != nil {
		*r.pending = append(*r.pending, entry)
		return
	}
	r.write(ctx, entry)
}

func (r *Repository) write(ctx context.Context, entry *audit.Entry) {
	if err := r.sink.Write(ctx, entry); err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"action":    string(entry.Action),
			"entity":    entry.Entity,
			"entity_id": entry.EntityID,
		}).Error("Failed to write audit entry")
	}
}

func changedFields(data store.Record, tenantField string) []string {
	fields := make([]string, 0, len(data))
	for k := range data {
		if k == store.IDField || k == tenantField {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
