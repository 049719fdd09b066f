package shimstore

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid"
)

// recordKey extracts the primary-key value from record per schema's key
// path, or reports ok=false when the store uses out-of-line keys (the
// caller must supply the key argument instead).
func recordKey(schema StoreSchema, record map[string]any) (any, bool) {
	parts := schema.keyPathParts()
	if len(parts) == 0 {
		return nil, false
	}
	if len(parts) == 1 {
		v, ok := record[parts[0]]
		return v, ok
	}
	tuple := make([]any, len(parts))
	for i, p := range parts {
		v, ok := record[p]
		if !ok {
			return nil, false
		}
		tuple[i] = v
	}
	return tuple, true
}

func assignRecordKey(schema StoreSchema, record map[string]any, key any) {
	parts := schema.keyPathParts()
	if len(parts) != 1 {
		return
	}
	record[parts[0]] = key
}

// ulidEntropy is process-wide: the source need not be cryptographically
// strong, only monotonic enough within a millisecond to keep generated
// keys from colliding under the default math/rand seeding.
var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

// generateKey produces a lexicographically sortable out-of-line primary
// key so auto-generated string keys still participate correctly in the
// total order, without a per-insert round trip to fetch a counter.
func generateKey() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// Put inserts or replaces a record in store. When key is nil and the
// store's key path is absent from the record (out-of-line keys), a
// sortable key is generated with a ULID so auto-generated string keys
// still respect the total order without a database round trip.
func (c *Connection) Put(ctx context.Context, store string, record map[string]any, key any) *Result[any] {
	return c.Transaction([]string{store}, ReadWrite, func(tx *Tx) (any, error) {
		return putRecord(tx, c.schema, store, record, key, true)
	})
}

// Add behaves like Put but raises ConstraintError if the key already
// exists, matching the source's distinct add/put semantics.
func (c *Connection) Add(ctx context.Context, store string, record map[string]any, key any) *Result[any] {
	return c.Transaction([]string{store}, ReadWrite, func(tx *Tx) (any, error) {
		return putRecord(tx, c.schema, store, record, key, false)
	})
}

func putRecord(tx *Tx, schema *DatabaseSchema, store string, record map[string]any, key any, allowReplace bool) (any, error) {
	storeSchema, err := schema.store(store)
	if err != nil {
		return nil, err
	}

	if key == nil {
		if k, ok := recordKey(storeSchema, record); ok {
			key = k
		} else if storeSchema.outOfLine() {
			key = generateKey()
		} else {
			return nil, argErr("put", fmt.Sprintf("record is missing key path for store %q", store))
		}
	}
	assignRecordKey(storeSchema, record, key)

	if tx.native != nil {
		s, err := storeFor(tx, store)
		if err != nil {
			return nil, err
		}
		if err := s.put(key, record, allowReplace); err != nil {
			return nil, err
		}
		return key, nil
	}
	if tx.sqlTx != nil {
		return key, sqlPut(tx, storeSchema, record, key, allowReplace)
	}
	return nil, newErr(KindInvalidOperation, "put", fmt.Errorf("transaction is not owned by a known backend"))
}

// Get fetches a single record by primary key.
func (c *Connection) Get(ctx context.Context, store string, key any) *Result[any] {
	return c.Transaction([]string{store}, ReadOnly, func(tx *Tx) (any, error) {
		storeSchema, err := c.schema.store(store)
		if err != nil {
			return nil, err
		}
		if tx.native != nil {
			s, err := storeFor(tx, store)
			if err != nil {
				return nil, err
			}
			v, ok := s.get(key)
			if !ok {
				return nil, nil
			}
			return v, nil
		}
		if tx.sqlTx != nil {
			return sqlGet(tx, storeSchema, key)
		}
		return nil, newErr(KindInvalidOperation, "get", fmt.Errorf("transaction is not owned by a known backend"))
	})
}

// Remove deletes a single record by primary key.
func (c *Connection) Remove(ctx context.Context, store string, key any) *Result[any] {
	return c.Transaction([]string{store}, ReadWrite, func(tx *Tx) (any, error) {
		storeSchema, err := c.schema.store(store)
		if err != nil {
			return nil, err
		}
		if tx.native != nil {
			s, err := storeFor(tx, store)
			if err != nil {
				return nil, err
			}
			return s.remove(key), nil
		}
		if tx.sqlTx != nil {
			return sqlRemove(tx, storeSchema, key)
		}
		return nil, newErr(KindInvalidOperation, "remove", fmt.Errorf("transaction is not owned by a known backend"))
	})
}

// Clear removes every record in store and returns the number removed.
func (c *Connection) Clear(ctx context.Context, store string) *Result[any] {
	return c.Transaction([]string{store}, ReadWrite, func(tx *Tx) (any, error) {
		storeSchema, err := c.schema.store(store)
		if err != nil {
			return nil, err
		}
		if tx.native != nil {
			s, err := storeFor(tx, store)
			if err != nil {
				return nil, err
			}
			n := len(s.records)
			s.records = nil
			for name := range s.indexes {
				s.indexes[name] = nil
			}
			return n, nil
		}
		if tx.sqlTx != nil {
			return sqlClear(tx, storeSchema)
		}
		return nil, newErr(KindInvalidOperation, "clear", fmt.Errorf("transaction is not owned by a known backend"))
	})
}

// List executes q against store and returns every resulting record,
// applying Map but not Reduce (use Reduce for an aggregate result).
func (c *Connection) List(ctx context.Context, store string, q Query) *Result[any] {
	q.StoreName = store
	return c.Transaction([]string{store}, ReadOnly, func(tx *Tx) (any, error) {
		return runScan(tx, c.schema, c.backend, q)
	})
}

// Count executes q and returns the number of matching records.
func (c *Connection) Count(ctx context.Context, store string, q Query) *Result[any] {
	q.StoreName = store
	return c.Transaction([]string{store}, ReadOnly, func(tx *Tx) (any, error) {
		rows, err := runScan(tx, c.schema, c.backend, q)
		if err != nil {
			return nil, err
		}
		return len(rows.([]map[string]any)), nil
	})
}

// Reduce executes q's scan and folds the result with q.Reduce (or
// q.ReduceFn). The field argument names which record field a built-in
// numeric reduce (sum/min/max/avg) operates over; it is ignored for
// count and for a custom ReduceFn.
func (c *Connection) Reduce(ctx context.Context, store string, q Query, field string) *Result[any] {
	q.StoreName = store
	return c.Transaction([]string{store}, ReadOnly, func(tx *Tx) (any, error) {
		rows, err := runScan(tx, c.schema, c.backend, q)
		if err != nil {
			return nil, err
		}
		return finalizeReduce(q.Reduce, q.ReduceFn, field, rows.([]map[string]any))
	})
}

func runScan(tx *Tx, schema *DatabaseSchema, backend Backend, q Query) (any, error) {
	storeSchema, err := schema.store(q.StoreName)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if tx.native != nil {
		s, err := storeFor(tx, q.StoreName)
		if err != nil {
			return nil, err
		}
		plan, err := compileNative(q, storeSchema)
		if err != nil {
			return nil, err
		}
		rows = executeNativePlan(s, plan)
	} else if tx.sqlTx != nil {
		sb, ok := backend.(*SQLBackend)
		if !ok {
			return nil, newErr(KindInvalidOperation, "scan", fmt.Errorf("SQL transaction without a SQLBackend"))
		}
		rows, err = sb.runQuery(tx, storeSchema, q)
		if err != nil {
			return nil, err
		}
		if q.Map != nil {
			mapped := make([]map[string]any, len(rows))
			for i, r := range rows {
				mapped[i] = q.Map(r)
			}
			rows = mapped
		}
	} else {
		return nil, newErr(KindInvalidOperation, "scan", fmt.Errorf("transaction is not owned by a known backend"))
	}

	return rows, nil
}

// OpenCursor executes q against the SQL backend and drives fn against the
// resulting Cursor from inside the owning transaction, so the cursor is
// live (and able to call update/clear/restart against the same *sql.Tx)
// for fn's entire duration; it is invalid to retain the Cursor past fn's
// return, since the transaction commits as soon as fn does. Only the SQL
// backend hosts this cursor state machine; calling this against a
// native-backend connection is a NotImplementedError (the native backend
// has its own range-scan cursor, consumed directly by List/Count/Reduce
// instead).
func (c *Connection) OpenCursor(ctx context.Context, store string, q Query, mode TransactionMode, fn func(cur *Cursor) (any, error)) *Result[any] {
	q.StoreName = store
	return c.Transaction([]string{store}, mode, func(tx *Tx) (any, error) {
		if tx.sqlTx == nil {
			return nil, newErr(KindNotImplemented, "open", fmt.Errorf("cursor open is only implemented for the SQL backend"))
		}
		storeSchema, err := c.schema.store(store)
		if err != nil {
			return nil, err
		}
		sb, ok := c.backend.(*SQLBackend)
		if !ok {
			return nil, newErr(KindInvalidOperation, "open", fmt.Errorf("SQL transaction without a SQLBackend"))
		}
		rows, err := sb.runQuery(tx, storeSchema, q)
		if err != nil {
			return nil, err
		}
		cur := newCursor(rows, storeSchema, q, primaryKeyColumn(storeSchema), q.Index, q.Direction, tx, sb)
		if err := cur.start(); err != nil {
			return nil, err
		}
		return fn(cur)
	})
}

// executeNativePlan runs a compiled nativePlan directly against an
// in-memory store: selecting the scan source (index or primary key),
// applying the range bound, direction, post-range filters, unique-
// direction dedup, offset/limit, and finally Map.
func executeNativePlan(s *nativeStore, plan *nativePlan) []map[string]any {
	var pks []any

	if plan.Index == "" {
		for _, rec := range s.records {
			if plan.Range.includes(rec.key) {
				pks = append(pks, rec.key)
			}
		}
	} else {
		entries := s.indexes[plan.Index]
		var lastKey any
		haveLast := false
		for _, e := range entries {
			if !plan.Range.includes(e.indexKey) {
				continue
			}
			if plan.Direction.unique() && haveLast && cmp(e.indexKey, lastKey) == 0 {
				continue
			}
			pks = append(pks, e.pk)
			lastKey = e.indexKey
			haveLast = true
		}
	}

	if plan.Direction.descending() {
		for i, j := 0, len(pks)-1; i < j; i, j = i+1, j-1 {
			pks[i], pks[j] = pks[j], pks[i]
		}
	}

	var out []map[string]any
	for _, pk := range pks {
		rec, ok := s.get(pk)
		if !ok {
			continue
		}
		if !matchesPostFilters(s.schema, rec, plan.PostFilters) {
			continue
		}
		out = append(out, rec)
	}

	if plan.Offset > 0 {
		if plan.Offset >= len(out) {
			out = nil
		} else {
			out = out[plan.Offset:]
		}
	}
	if plan.Limit > 0 && len(out) > plan.Limit {
		out = out[:plan.Limit]
	}

	if plan.Map != nil {
		mapped := make([]map[string]any, len(out))
		for i, r := range out {
			mapped[i] = plan.Map(r)
		}
		out = mapped
	}

	return out
}

func matchesPostFilters(schema StoreSchema, rec map[string]any, wheres []Where) bool {
	for _, w := range wheres {
		field := w.Field
		if ix, ok := schema.index(field); ok {
			if parts := ix.keyPathParts(); len(parts) == 1 {
				field = parts[0]
			}
		}
		if !w.Range.includes(rec[field]) {
			return false
		}
	}
	return true
}

// GetItem/SetItem/RemoveItem are a default-text-store convenience API: a
// simple string-keyed key/value facade over a dedicated store, for
// callers that don't need a declared schema per value they store.
func (c *Connection) GetItem(ctx context.Context, key string) *Result[any] {
	result := newResult[any](c.dispatch)
	inner := c.Get(ctx, defaultTextStoreName, key)
	inner.Then(
		func(v any) {
			if v == nil {
				result.resolve(nil)
				return
			}
			record := v.(map[string]any)
			result.resolve(record["value"])
		},
		func(err error) { result.reject(err) },
	)
	return result
}

func (c *Connection) SetItem(ctx context.Context, key string, value any) *Result[any] {
	return c.Put(ctx, defaultTextStoreName, map[string]any{"key": key, "value": value}, key)
}

func (c *Connection) RemoveItem(ctx context.Context, key string) *Result[any] {
	return c.Remove(ctx, defaultTextStoreName, key)
}
