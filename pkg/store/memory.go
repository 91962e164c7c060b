package store

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RawHandler serves ExecRaw for a MemoryStore
type RawHandler func(query string, args []any) ([]Record, error)

// MemoryStore keeps collections in process memory. Transactions run on a
// copy of the data under the write lock and replace it on commit.
type MemoryStore struct {
	mu   *sync.RWMutex
	data map[string]map[string]Record
	raw  RawHandler
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:   &sync.RWMutex{},
		data: make(map[string]map[string]Record),
	}
}

// HandleRaw installs the backend for ExecRaw
func (s *MemoryStore) HandleRaw(h RawHandler) {
	s.raw = h
}

// Transaction views carry no lock; the parent holds it.
func (s *MemoryStore) rlock() {
	if s.mu != nil {
		s.mu.RLock()
	}
}

func (s *MemoryStore) runlock() {
	if s.mu != nil {
		s.mu.RUnlock()
	}
}

func (s *MemoryStore) lock() {
	if s.mu != nil {
		s.mu.Lock()
	}
}

func (s *MemoryStore) unlock() {
	if s.mu != nil {
		s.mu.Unlock()
	}
}

func (s *MemoryStore) FindMany(ctx context.Context, entity string, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIdentifiers(entity); err != nil {
		return nil, err
	}

	s.rlock()
	defer s.runlock()

	var out []Record
	for _, r := range s.data[entity] {
		if matches(r, q.Where) {
			out = append(out, r.Clone())
		}
	}

	sortRecords(out, q.OrderBy)

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) FindFirst(ctx context.Context, entity string, q Query) (Record, error) {
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

func (s *MemoryStore) FindUnique(ctx context.Context, entity, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.rlock()
	defer s.runlock()

	r, ok := s.data[entity][id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, entity string, data Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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

	s.lock()
	defer s.unlock()

	coll, ok := s.data[entity]
	if !ok {
		coll = make(map[string]Record)
		s.data[entity] = coll
	}
	if _, exists := coll[r.ID()]; exists {
		return nil, fmt.Errorf("store: %s %s already exists", entity, r.ID())
	}
	coll[r.ID()] = r
	return r.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, entity, id string, data Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock()
	defer s.unlock()

	r, ok := s.data[entity][id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := r.Clone()
	for k, v := range data {
		if k == IDField {
			continue
		}
		updated[k] = v
	}
	s.data[entity][id] = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, entity, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock()
	defer s.unlock()

	r, ok := s.data[entity][id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.data[entity], id)
	return r, nil
}

func (s *MemoryStore) Count(ctx context.Context, entity string, where Filter) (int, error) {
	records, err := s.FindMany(ctx, entity, Query{Where: where})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, entity string, where Filter, aggs []Aggregation) (map[string]float64, error) {
	if err := checkAggregations(aggs); err != nil {
		return nil, err
	}
	records, err := s.FindMany(ctx, entity, Query{Where: where})
	if err != nil {
		return nil, err
	}
	return aggregate(records, aggs), nil
}

func (s *MemoryStore) GroupBy(ctx context.Context, entity string, by []string, where Filter, aggs []Aggregation) ([]Group, error) {
	if len(by) == 0 {
		return nil, fmt.Errorf("store: group by requires at least one field")
	}
	if err := checkIdentifiers(by...); err != nil {
		return nil, err
	}
	if err := checkAggregations(aggs); err != nil {
		return nil, err
	}
	records, err := s.FindMany(ctx, entity, Query{Where: where})
	if err != nil {
		return nil, err
	}

	buckets := make(map[string][]Record)
	keys := make(map[string]Record)
	var order []string
	for _, r := range records {
		key := make(Record, len(by))
		parts := make([]string, len(by))
		for i, field := range by {
			key[field] = r[field]
			parts[i] = fmt.Sprintf("%v", r[field])
		}
		k := strings.Join(parts, "\x00")
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
			keys[k] = key
		}
		buckets[k] = append(buckets[k], r)
	}
	sort.Strings(order)

	groups := make([]Group, 0, len(order))
	for _, k := range order {
		groups = append(groups, Group{
			Key:        keys[k],
			Count:      len(buckets[k]),
			Aggregates: aggregate(buckets[k], aggs),
		})
	}
	return groups, nil
}

func (s *MemoryStore) ExecRaw(ctx context.Context, query string, args ...any) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.raw == nil {
		return nil, ErrRawUnsupported
	}
	return s.raw(query, args)
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.mu == nil {
		// Already inside a transaction.
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{data: cloneData(s.data), raw: s.raw}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func cloneData(data map[string]map[string]Record) map[string]map[string]Record {
	out := make(map[string]map[string]Record, len(data))
	for entity, coll := range data {
		c := make(map[string]Record, len(coll))
		for id, r := range coll {
			c[id] = r.Clone()
		}
		out[entity] = c
	}
	return out
}

func matches(r Record, where Filter) bool {
	for field, want := range where {
		got, present := r[field]
		if want == nil {
			if present && got != nil {
				return false
			}
			continue
		}
		if !present {
			return false
		}
		rv := reflect.ValueOf(want)
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			found := false
			for i := 0; i < rv.Len(); i++ {
				if valuesEqual(got, rv.Index(i).Interface()) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareValues(a, b any) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func sortRecords(records []Record, orders []Order) {
	if len(orders) == 0 {
		sort.SliceStable(records, func(i, j int) bool { return records[i].ID() < records[j].ID() })
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range orders {
			c := compareValues(records[i][o.Field], records[j][o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func aggregate(records []Record, aggs []Aggregation) map[string]float64 {
	out := make(map[string]float64, len(aggs))
	for _, a := range aggs {
		var sum float64
		n := 0
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, r := range records {
			v, ok := toFloat(r[a.Field])
			if !ok {
				continue
			}
			n++
			sum += v
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
		switch a.Op {
		case OpCount:
			out[a.Key()] = float64(n)
		case OpSum:
			out[a.Key()] = sum
		case OpAvg:
			if n > 0 {
				out[a.Key()] = sum / float64(n)
			}
		case OpMin:
			if n > 0 {
				out[a.Key()] = minV
			}
		case OpMax:
			if n > 0 {
				out[a.Key()] = maxV
			}
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
