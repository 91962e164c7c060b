package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/store"
)

const (
	testProject = "test-project-id"
	evilProject = "evil-project-id"
)

// leakyStore ignores filters, standing in for a store whose filtering is broken
type leakyStore struct {
	*store.MemoryStore
}

func (s leakyStore) FindMany(ctx context.Context, entity string, q store.Query) ([]store.Record, error) {
	return s.MemoryStore.FindMany(ctx, entity, store.Query{})
}

func (s leakyStore) FindFirst(ctx context.Context, entity string, q store.Query) (store.Record, error) {
	return s.MemoryStore.FindFirst(ctx, entity, store.Query{OrderBy: []store.Order{{Field: "projectId", Desc: false}}})
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	records := []store.Record{
		{"id": "item-1", "projectId": testProject, "item": "Rebar", "estTotal": 1000},
		{"id": "item-2", "projectId": testProject, "item": "Formwork", "estTotal": 400},
		{"id": "item-evil", "projectId": evilProject, "item": "Secret", "estTotal": 99999},
	}
	for _, r := range records {
		_, err := s.Create(ctx, "budget_items", r)
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "cost_codes", store.Record{"id": "cc-1", "code": "03-300"})
	require.NoError(t, err)
	return s
}

func newRepo(t *testing.T, s store.Store, opts ...Option) (*Repository, *audit.MemorySink) {
	t.Helper()
	sink := audit.NewMemorySink()
	repo, err := New(s, Scope{
		UserID:         "user-1",
		ProjectID:      testProject,
		CallerProjects: []string{"other", testProject},
	}, sink, opts...)
	require.NoError(t, err)
	return repo, sink
}

func assertAllOwned(t *testing.T, records []store.Record) {
	t.Helper()
	for _, r := range records {
		assert.Equal(t, testProject, r["projectId"], "record %s", r.ID())
	}
}

func TestNew_RequiresAccessibleProject(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := New(s, Scope{UserID: "u1", ProjectID: evilProject, CallerProjects: []string{testProject}}, nil)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAuthorization, appErr.Kind)
	assert.Equal(t, apperrors.CodeProjectNotAccessible, appErr.Code)

	_, err = New(s, Scope{UserID: "u1", ProjectID: testProject}, nil)
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))

	_, err = New(s, Scope{UserID: "", ProjectID: testProject, CallerProjects: []string{testProject}}, nil)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestFindMany_InjectsTenantFilter(t *testing.T) {
	repo, _ := newRepo(t, seedStore(t))
	ctx := context.Background()

	records, err := repo.FindMany(ctx, "budget_items", store.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assertAllOwned(t, records)

	// A client filter naming another project is overridden.
	records, err = repo.FindMany(ctx, "budget_items", store.Query{Where: store.Filter{"projectId": evilProject}})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assertAllOwned(t, records)

	first, err := repo.FindFirst(ctx, "budget_items", store.Query{Where: store.Filter{"item": "Formwork"}})
	require.NoError(t, err)
	assert.Equal(t, "item-2", first.ID())

	_, err = repo.FindFirst(ctx, "budget_items", store.Query{Where: store.Filter{"item": "Secret"}})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestFindMany_ValidatesResultsIndependently(t *testing.T) {
	repo, _ := newRepo(t, leakyStore{seedStore(t)})
	ctx := context.Background()

	_, err := repo.FindMany(ctx, "budget_items", store.Query{})
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err))

	_, err = repo.FindFirst(ctx, "budget_items", store.Query{})
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err))
}

func TestFindUnique_ValidatesOwnership(t *testing.T) {
	repo, _ := newRepo(t, seedStore(t))
	ctx := context.Background()

	r, err := repo.FindUnique(ctx, "budget_items", "item-1")
	require.NoError(t, err)
	assert.Equal(t, "Rebar", r["item"])

	_, err = repo.FindUnique(ctx, "budget_items", "item-evil")
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindAuthorization, appErr.Kind)
	assert.Equal(t, apperrors.CodeTenantMismatch, appErr.Code)

	_, err = repo.FindUnique(ctx, "budget_items", "nope")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestGlobalEntitiesSkipScope(t *testing.T) {
	repo, _ := newRepo(t, seedStore(t), WithGlobalEntities("cost_codes"))
	ctx := context.Background()

	records, err := repo.FindMany(ctx, "cost_codes", store.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	r, err := repo.FindUnique(ctx, "cost_codes", "cc-1")
	require.NoError(t, err)
	assert.Equal(t, "03-300", r["code"])

	scoped, _ := newRepo(t, seedStore(t))
	_, err = scoped.FindUnique(ctx, "cost_codes", "cc-1")
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err), "records without a tenant field are not owned")
}

func TestCreate_StampsScopedProject(t *testing.T) {
	s := seedStore(t)
	repo, sink := newRepo(t, s)
	ctx := context.Background()

	created, err := repo.Create(ctx, "budget_items", store.Record{"item": "Concrete", "projectId": evilProject})
	require.NoError(t, err)
	assert.Equal(t, testProject, created["projectId"])

	stored, err := s.FindUnique(ctx, "budget_items", created.ID())
	require.NoError(t, err)
	assert.Equal(t, testProject, stored["projectId"])

	entries := sink.ByAction(audit.ActionCreate)
	require.Len(t, entries, 1)
	assert.Equal(t, "budget_items", entries[0].Entity)
	assert.Equal(t, created.ID(), entries[0].EntityID)
	assert.Equal(t, testProject, entries[0].ProjectID)
	assert.Equal(t, "user-1", entries[0].UserID)
}

func TestUpdate_ClientProjectIsIgnored(t *testing.T) {
	s := seedStore(t)
	repo, sink := newRepo(t, s)
	ctx := context.Background()

	updated, err := repo.Update(ctx, "budget_items", "item-1", store.Record{"projectId": evilProject, "estTotal": 1200})
	require.NoError(t, err)
	assert.Equal(t, testProject, updated["projectId"])
	assert.Equal(t, 1200, updated["estTotal"])

	evilCount, err := s.Count(ctx, "budget_items", store.Filter{"projectId": evilProject})
	require.NoError(t, err)
	assert.Equal(t, 1, evilCount, "no record moved to the client-supplied project")

	entries := sink.ByAction(audit.ActionUpdate)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"estTotal"}, entries[0].Meta["fields"])
}

func TestUpdateAndDelete_ValidateBeforeMutating(t *testing.T) {
	s := seedStore(t)
	repo, sink := newRepo(t, s)
	ctx := context.Background()

	_, err := repo.Update(ctx, "budget_items", "item-evil", store.Record{"estTotal": 0})
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err))

	_, err = repo.Delete(ctx, "budget_items", "item-evil")
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err))

	untouched, err := s.FindUnique(ctx, "budget_items", "item-evil")
	require.NoError(t, err)
	assert.Equal(t, 99999, untouched["estTotal"])
	assert.Empty(t, sink.Entries())

	deleted, err := repo.Delete(ctx, "budget_items", "item-2")
	require.NoError(t, err)
	assert.Equal(t, "Formwork", deleted["item"])
	assert.Len(t, sink.ByAction(audit.ActionDelete), 1)

	_, err = repo.Delete(ctx, "budget_items", "item-2")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestCountAggregateGroupBy_AreScoped(t *testing.T) {
	repo, _ := newRepo(t, seedStore(t))
	ctx := context.Background()

	n, err := repo.Count(ctx, "budget_items", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	aggs, err := repo.Aggregate(ctx, "budget_items", store.Filter{"projectId": evilProject}, []store.Aggregation{{Op: store.OpSum, Field: "estTotal"}})
	require.NoError(t, err)
	assert.InDelta(t, 1400, aggs["sum_estTotal"], 0.001)

	groups, err := repo.GroupBy(ctx, "budget_items", []string{"projectId"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, testProject, groups[0].Key["projectId"])
	assert.Equal(t, 2, groups[0].Count)
}

func TestExecRaw(t *testing.T) {
	s := store.NewMemoryStore()
	var gotQuery string
	var gotArgs []any
	s.HandleRaw(func(query string, args []any) ([]store.Record, error) {
		gotQuery, gotArgs = query, args
		return []store.Record{{"total": 3}}, nil
	})
	repo, _ := newRepo(t, s)
	ctx := context.Background()

	_, err := repo.ExecRaw(ctx, "DELETE FROM budget_items")
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeUnscopedRawQuery, appErr.Code)
	assert.Empty(t, gotQuery, "unscoped query never reaches the store")

	_, err = repo.ExecRaw(ctx, "SELECT COUNT(*) AS total FROM tasks WHERE status = $1 AND project_id = $2", "open")
	require.NoError(t, err)
	assert.Equal(t, []any{"open", testProject}, gotArgs)

	_, err = repo.ExecRaw(ctx, `SELECT * FROM tasks WHERE "projectId" = $1`, testProject)
	require.NoError(t, err)
	assert.Equal(t, []any{testProject}, gotArgs, "project id is not appended twice")
}

func TestExecRaw_RejectsForeignRows(t *testing.T) {
	s := store.NewMemoryStore()
	rows := []store.Record{
		{"id": "item-1", "project_id": testProject, "item": "Rebar"},
		{"id": "item-evil", "project_id": evilProject, "item": "Secret"},
	}
	s.HandleRaw(func(query string, args []any) ([]store.Record, error) {
		return rows, nil
	})
	repo, _ := newRepo(t, s)
	ctx := context.Background()

	records, err := repo.ExecRaw(ctx, "SELECT * FROM budget_items WHERE project_id IS NOT NULL")
	assert.Nil(t, records)
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err))

	rows = []store.Record{{"id": "item-1", "projectId": testProject}, {"id": "item-null", "projectId": nil}}
	_, err = repo.ExecRaw(ctx, `SELECT * FROM budget_items WHERE "projectId" = $1`)
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err), "a null tenant column is not owned")

	rows = []store.Record{{"id": "item-1", "project_id": testProject}, {"total": 2}}
	records, err = repo.ExecRaw(ctx, "SELECT * FROM budget_items WHERE project_id = $1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestExecRaw_SQLStore(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	repo, _ := newRepo(t, store.NewSQLStore(db))

	mock.ExpectQuery(`SELECT SUM(qty) AS qty FROM procurement_items WHERE project_id = $1`).
		WithArgs(testProject).
		WillReturnRows(sqlmock.NewRows([]string{"qty"}).AddRow(int64(42)))

	records, err := repo.ExecRaw(context.Background(), `SELECT SUM(qty) AS qty FROM procurement_items WHERE project_id = $1`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), records[0]["qty"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_AuditsAfterCommit(t *testing.T) {
	s := seedStore(t)
	repo, sink := newRepo(t, s)
	ctx := context.Background()

	err := repo.Transaction(ctx, func(tx *Repository) error {
		if _, err := tx.Create(ctx, "budget_items", store.Record{"id": "item-3", "item": "Scaffold"}); err != nil {
			return err
		}
		if _, err := tx.Update(ctx, "budget_items", "item-1", store.Record{"estTotal": 1}); err != nil {
			return err
		}
		assert.Empty(t, sink.Entries(), "audit is deferred until commit")
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, sink.Entries(), 2)

	boom := errors.New("boom")
	err = repo.Transaction(ctx, func(tx *Repository) error {
		if _, err := tx.Delete(ctx, "budget_items", "item-3"); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
	assert.Len(t, sink.Entries(), 2, "rolled back work is not audited")

	_, err = repo.FindUnique(ctx, "budget_items", "item-3")
	assert.NoError(t, err)

	err = repo.Transaction(ctx, func(tx *Repository) error {
		_, err := tx.FindUnique(ctx, "budget_items", "item-evil")
		return err
	})
	assert.Equal(t, apperrors.CodeTenantMismatch, apperrors.CodeOf(err), "typed errors pass through")
}

func TestWithTenantField(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.Create(context.Background(), "tasks", store.Record{"id": "t1", "project_id": testProject})
	require.NoError(t, err)

	repo, _ := newRepo(t, s, WithTenantField("project_id"))
	records, err := repo.FindMany(context.Background(), "tasks", store.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "project_id", repo.TenantField())
}
