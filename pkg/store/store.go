package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// IDField is the primary key field of every entity
const IDField = "id"

var (
	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("store: record not found")
	// ErrInvalidIdentifier is returned for entity or field names that are not plain identifiers
	ErrInvalidIdentifier = errors.New("store: invalid identifier")
	// ErrRawUnsupported is returned by stores without a raw query backend
	ErrRawUnsupported = errors.New("store: raw queries not supported")
)

// Record is one entity row keyed by field name
type Record map[string]any

// ID returns the record's primary key as a string
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	switch v := r[IDField].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Filter matches records by field equality. A slice value matches any of its
// elements and a nil value matches a missing or null field.
type Filter map[string]any

// Clone returns a shallow copy
func (f Filter) Clone() Filter {
	c := make(Filter, len(f)+1)
	for k, v := range f {
		c[k] = v
	}
	return c
}

// fields returns the filter keys in a stable order
func (f Filter) fields() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Order sorts results by a field
type Order struct {
	Field string
	Desc  bool
}

// Query selects records
type Query struct {
	Where   Filter
	OrderBy []Order
	Limit   int
	Offset  int
}

// AggregateOp is an aggregate function
type AggregateOp string

const (
	OpCount AggregateOp = "count"
	OpSum   AggregateOp = "sum"
	OpAvg   AggregateOp = "avg"
	OpMin   AggregateOp = "min"
	OpMax   AggregateOp = "max"
)

// Aggregation applies Op to Field
type Aggregation struct {
	Op    AggregateOp
	Field string
}

// Key names the aggregation in results, e.g. "sum_estTotal"
func (a Aggregation) Key() string {
	return string(a.Op) + "_" + a.Field
}

// Group is one GroupBy bucket
type Group struct {
	Key        Record
	Count      int
	Aggregates map[string]float64
}

// Store is a generic keyed-collection store. Entity names select the
// collection; implementations must honour ctx cancellation.
type Store interface {
	FindMany(ctx context.Context, entity string, q Query) ([]Record, error)
	// FindFirst returns the first match or ErrNotFound
	FindFirst(ctx context.Context, entity string, q Query) (Record, error)
	// FindUnique looks a record up by primary key or returns ErrNotFound
	FindUnique(ctx context.Context, entity, id string) (Record, error)
	// Create persists data and returns the stored record, assigning an id when absent
	Create(ctx context.Context, entity string, data Record) (Record, error)
	// Update merges data into the record with id
	Update(ctx context.Context, entity, id string, data Record) (Record, error)
	// Delete removes the record with id and returns it
	Delete(ctx context.Context, entity, id string) (Record, error)
	Count(ctx context.Context, entity string, where Filter) (int, error)
	Aggregate(ctx context.Context, entity string, where Filter, aggs []Aggregation) (map[string]float64, error)
	GroupBy(ctx context.Context, entity string, by []string, where Filter, aggs []Aggregation) ([]Group, error)
	// ExecRaw runs a query the abstraction cannot express
	ExecRaw(ctx context.Context, query string, args ...any) ([]Record, error)
	// WithTx runs fn against a transactional view. It commits when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name may be used as an entity or field name
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifiers(names ...string) error {
	for _, name := range names {
		if !ValidIdentifier(name) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return nil
}

func checkAggregations(aggs []Aggregation) error {
	for _, a := range aggs {
		switch a.Op {
		case OpCount, OpSum, OpAvg, OpMin, OpMax:
		default:
			return fmt.Errorf("store: unknown aggregate %q", a.Op)
		}
		if err := checkIdentifiers(a.Field); err != nil {
			return err
		}
	}
	return nil
}
