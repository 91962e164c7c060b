package store

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore maps entities to PostgreSQL tables of the same name. Field names
// are used verbatim as quoted column names.
type SQLStore struct {
	db *sql.DB
	q  querier
}

// NewSQLStore creates a store over db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

// whereClause renders f starting at placeholder $start
func whereClause(f Filter, start int) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}
	fields := f.fields()
	if err := checkIdentifiers(fields...); err != nil {
		return "", nil, err
	}

	conds := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	n := start
	for _, field := range fields {
		v := f[field]
		if v == nil {
			conds = append(conds, fmt.Sprintf("%s IS NULL", quote(field)))
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			conds = append(conds, fmt.Sprintf("%s = ANY($%d)", quote(field), n))
			args = append(args, pq.Array(v))
		} else {
			conds = append(conds, fmt.Sprintf("%s = $%d", quote(field), n))
			args = append(args, v)
		}
		n++
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderClause(orders []Order) (string, error) {
	if len(orders) == 0 {
		return " ORDER BY " + quote(IDField), nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if err := checkIdentifiers(o.Field); err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, quote(o.Field)+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (s *SQLStore) FindMany(ctx context.Context, entity string, q Query) ([]Record, error) {
	if err := checkIdentifiers(entity); err != nil {
		return nil, err
	}
	where, args, err := whereClause(q.Where, 1)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(q.OrderBy)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + quote(entity) + where + order
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	return s.query(ctx, query, args...)
}

func (s *SQLStore) FindFirst(ctx context.Context, entity string, q Query) (Record, error) {
	q.Limit = 1
	records, err := s.FindMany(ctx, entity, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

func (s *SQLStore) FindUnique(ctx context.Context, entity, id string) (Record, error) {
	if err := checkIdentifiers(entity); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", quote(entity), quote(IDField))
	return s.one(ctx, query, id)
}

func (s *SQLStore) Create(ctx context.Context, entity string, data Record) (Record, error) {
	if err := checkIdentifiers(entity); err != nil {
		return nil, err
	}
	r := data.Clone()
	if r == nil {
		r = Record{}
	}
	if r.ID() == "" {
		r[IDField] = uuid.New().String()
	}

	fields := sortedFields(r)
	if err := checkIdentifiers(fields...); err != nil {
		return nil, err
	}
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, field := range fields {
		cols[i] = quote(field)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = r[field]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quote(entity), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return s.one(ctx, query, args...)
}

func (s *SQLStore) Update(ctx context.Context, entity, id string, data Record) (Record, error) {
	if err := checkIdentifiers(entity); err != nil {
		return nil, err
	}
	patch := data.Clone()
	delete(patch, IDField)
	if len(patch) == 0 {
		return s.FindUnique(ctx, entity, id)
	}

	fields := sortedFields(patch)
	if err := checkIdentifiers(fields...); err != nil {
		return nil, err
	}
	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, field := range fields {
		sets[i] = fmt.Sprintf("%s = $%d", quote(field), i+1)
		args = append(args, patch[field])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		quote(entity), strings.Join(sets, ", "), quote(IDField), len(args))
	return s.one(ctx, query, args...)
}

func (s *SQLStore) Delete(ctx context.Context, entity, id string) (Record, error) {
	if err := checkIdentifiers(entity); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING *", quote(entity), quote(IDField))
	return s.one(ctx, query, id)
}

func (s *SQLStore) Count(ctx context.Context, entity string, where Filter) (int, error) {
	if err := checkIdentifiers(entity); err != nil {
		return 0, err
	}
	clause, args, err := whereClause(where, 1)
	if err != nil {
		return 0, err
	}
	records, err := s.query(ctx, `SELECT COUNT(*) AS "count" FROM `+quote(entity)+clause, args...)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, _ := toFloat(records[0]["count"])
	return int(n), nil
}

func aggregateColumns(aggs []Aggregation) []string {
	cols := make([]string, len(aggs))
	for i, a := range aggs {
		cols[i] = fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(string(a.Op)), quote(a.Field), quote(a.Key()))
	}
	return cols
}

func (s *SQLStore) Aggregate(ctx context.Context, entity string, where Filter, aggs []Aggregation) (map[string]float64, error) {
	if err := checkIdentifiers(entity); err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		return map[string]float64{}, nil
	}
	if err := checkAggregations(aggs); err != nil {
		return nil, err
	}
	clause, args, err := whereClause(where, 1)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + strings.Join(aggregateColumns(aggs), ", ") + " FROM " + quote(entity) + clause
	records, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(aggs))
	if len(records) == 0 {
		return out, nil
	}
	for _, a := range aggs {
		if v, ok := numeric(records[0][a.Key()]); ok {
			out[a.Key()] = v
		}
	}
	return out, nil
}

func (s *SQLStore) GroupBy(ctx context.Context, entity string, by []string, where Filter, aggs []Aggregation) ([]Group, error) {
	if len(by) == 0 {
		return nil, fmt.Errorf("store: group by requires at least one field")
	}
	if err := checkIdentifiers(append([]string{entity}, by...)...); err != nil {
		return nil, err
	}
	if err := checkAggregations(aggs); err != nil {
		return nil, err
	}
	clause, args, err := whereClause(where, 1)
	if err != nil {
		return nil, err
	}

	groupCols := make([]string, len(by))
	for i, field := range by {
		groupCols[i] = quote(field)
	}
	cols := append(append([]string{}, groupCols...), `COUNT(*) AS "_count"`)
	cols = append(cols, aggregateColumns(aggs)...)

	query := fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s ORDER BY %s",
		strings.Join(cols, ", "), quote(entity), clause,
		strings.Join(groupCols, ", "), strings.Join(groupCols, ", "))
	records, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(records))
	for _, r := range records {
		g := Group{Key: make(Record, len(by)), Aggregates: make(map[string]float64, len(aggs))}
		for _, field := range by {
			g.Key[field] = r[field]
		}
		if n, ok := numeric(r["_count"]); ok {
			g.Count = int(n)
		}
		for _, a := range aggs {
			if v, ok := numeric(r[a.Key()]); ok {
				g.Aggregates[a.Key()] = v
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *SQLStore) ExecRaw(ctx context.Context, query string, args ...any) ([]Record, error) {
	return s.query(ctx, query, args...)
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		// Already inside a transaction.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&SQLStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) one(ctx context.Context, query string, args ...any) (Record, error) {
	records, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r := make(Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				r[col] = string(b)
			} else {
				r[col] = values[i]
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return records, nil
}

func sortedFields(r Record) []string {
	fields := make([]string, 0, len(r))
	for k := range r {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// numeric converts driver values, including NUMERIC text, to float64
func numeric(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

var _ Store = (*SQLStore)(nil)
