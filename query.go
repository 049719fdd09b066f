package shimstore

import "fmt"

// Direction controls cursor traversal order, mirroring the four
// directions the source exposes: forward/backward, each with or without
// deduplication of equal effective (index) keys, keeping the first record
// of each key.
type Direction int

const (
	DirNext Direction = iota
	DirNextUnique
	DirPrev
	DirPrevUnique
)

func (d Direction) String() string {
	switch d {
	case DirNext:
		return "next"
	case DirNextUnique:
		return "nextUnique"
	case DirPrev:
		return "prev"
	case DirPrevUnique:
		return "prevUnique"
	default:
		return "unknown"
	}
}

func (d Direction) descending() bool {
	return d == DirPrev || d == DirPrevUnique
}

func (d Direction) unique() bool {
	return d == DirNextUnique || d == DirPrevUnique
}

// ReduceOp names an incremental aggregate applied over a scan's results.
type ReduceOp int

const (
	ReduceNone ReduceOp = iota
	ReduceCount
	ReduceSum
	ReduceMin
	ReduceMax
	ReduceAvg
)

// MapFn transforms a record before it reaches the caller or a Reduce step.
type MapFn func(record map[string]any) map[string]any

// ReduceFn folds a stream of (possibly mapped) records into a single
// value. prev is the accumulator from the previous call (zero value on
// the first), i is the zero-based index of this record in the scan.
type ReduceFn func(prev any, record map[string]any, i int) any

// Query is the backend-agnostic intermediate representation every store
// read operation compiles to, whether it ends up executed by the native
// backend's index-cursor scan or by the SQL backend's compiled SELECT.
type Query struct {
	StoreName string
	Index     string // "" means scan by primary key
	Direction Direction
	Wheres    []Where
	Map       MapFn
	Reduce    ReduceOp
	ReduceFn  ReduceFn // used only when Reduce == ReduceNone but a custom ReduceFn is supplied
	Limit     int      // 0 means unbounded
	Offset    int
}

// validate enforces the Query IR invariants from the data model: an
// indexed scan must name a declared index, and at most one map/reduce
// stage may be attached (chaining multiple is a NotImplementedError, not
// silently composed).
func (q Query) validate(schema StoreSchema) error {
	if q.Index != "" {
		if _, ok := schema.index(q.Index); !ok {
			return newErr(KindConstraint, "query", fmt.Errorf("store %q has no index %q", schema.Name, q.Index))
		}
	}
	if q.Limit < 0 {
		return argErr("query", "limit must not be negative")
	}
	if q.Offset < 0 {
		return argErr("query", "offset must not be negative")
	}
	if q.Reduce != ReduceNone && q.ReduceFn != nil {
		return newErr(KindNotImplemented, "query", fmt.Errorf("a query may declare at most one reduce stage"))
	}
	return nil
}

// keyTypeFor resolves the KeyType this query's scan is ordered by: the
// named index's type, or the store's own primary-key type when scanning
// unindexed.
func (q Query) keyTypeFor(schema StoreSchema) KeyType {
	if q.Index != "" {
		if ix, ok := schema.index(q.Index); ok {
			return ix.effectiveType()
		}
	}
	return schema.effectiveType()
}
