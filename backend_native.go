package shimstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// nativeRecord pairs a primary key with its stored value, kept in
// primary-key sorted order so range scans are a binary search plus a
// linear walk rather than a full table scan.
type nativeRecord struct {
	key   any
	value map[string]any
}

// nativeIndexEntry is one row of a secondary index: the indexed value and
// the primary key of the record it points at, kept sorted by (indexKey,
// primaryKey) so unique-direction dedup and range scans both work off the
// same slice.
type nativeIndexEntry struct {
	indexKey any
	pk       any
}

// nativeStore is one object store's in-memory state: the sorted primary
// record list plus one sorted slice per declared secondary index.
type nativeStore struct {
	schema  StoreSchema
	records []nativeRecord
	indexes map[string][]nativeIndexEntry
}

func newNativeStore(schema StoreSchema) *nativeStore {
	s := &nativeStore{schema: schema, indexes: make(map[string][]nativeIndexEntry)}
	for _, ix := range schema.Indexes {
		s.indexes[ix.Name] = nil
	}
	return s
}

// clone returns a deep-enough copy for copy-on-write transaction
// isolation: new backing slices, but records/values are not themselves
// deep copied (callers must treat a fetched record as copy-on-write too
// when mutating it for a put).
func (s *nativeStore) clone() *nativeStore {
	c := &nativeStore{
		schema:  s.schema,
		records: append([]nativeRecord(nil), s.records...),
		indexes: make(map[string][]nativeIndexEntry, len(s.indexes)),
	}
	for name, entries := range s.indexes {
		c.indexes[name] = append([]nativeIndexEntry(nil), entries...)
	}
	return c
}

func (s *nativeStore) find(key any) (int, bool) {
	i := sort.Search(len(s.records), func(i int) bool {
		return cmp(s.records[i].key, key) >= 0
	})
	if i < len(s.records) && cmp(s.records[i].key, key) == 0 {
		return i, true
	}
	return i, false
}

func (s *nativeStore) get(key any) (map[string]any, bool) {
	i, ok := s.find(key)
	if !ok {
		return nil, false
	}
	return s.records[i].value, true
}

// put inserts or replaces the record at key, maintaining primary-key
// order and rebuilding this record's entries in every secondary index.
func (s *nativeStore) put(key any, value map[string]any, allowReplace bool) error {
	i, exists := s.find(key)
	if exists {
		if !allowReplace {
			return newErr(KindConstraint, "add", fmt.Errorf("key already exists in store %q", s.schema.Name))
		}
		s.removeIndexEntries(s.records[i].key)
		s.records[i] = nativeRecord{key: key, value: value}
	} else {
		rec := nativeRecord{key: key, value: value}
		s.records = append(s.records, nativeRecord{})
		copy(s.records[i+1:], s.records[i:])
		s.records[i] = rec
	}
	s.addIndexEntries(key, value)
	return nil
}

func (s *nativeStore) remove(key any) bool {
	i, ok := s.find(key)
	if !ok {
		return false
	}
	s.removeIndexEntries(key)
	s.records = append(s.records[:i], s.records[i+1:]...)
	return true
}

func (s *nativeStore) addIndexEntries(pk any, value map[string]any) {
	for _, ix := range s.schema.Indexes {
		vals := indexValuesFor(ix, value)
		for _, v := range vals {
			entries := s.indexes[ix.Name]
			j := sort.Search(len(entries), func(i int) bool {
				c := cmp(entries[i].indexKey, v)
				if c != 0 {
					return c >= 0
				}
				return cmp(entries[i].pk, pk) >= 0
			})
			entries = append(entries, nativeIndexEntry{})
			copy(entries[j+1:], entries[j:])
			entries[j] = nativeIndexEntry{indexKey: v, pk: pk}
			s.indexes[ix.Name] = entries
		}
	}
}

func (s *nativeStore) removeIndexEntries(pk any) {
	for name, entries := range s.indexes {
		filtered := entries[:0]
		for _, e := range entries {
			if cmp(e.pk, pk) != 0 {
				filtered = append(filtered, e)
			}
		}
		s.indexes[name] = filtered
	}
}

// indexValuesFor extracts the value(s) an index entry should be created
// for. multiEntry indexes whose key path resolves to a slice create one
// entry per element; all other indexes create exactly one entry (or none,
// if the key path is absent from the record).
func indexValuesFor(ix IndexSchema, value map[string]any) []any {
	parts := ix.keyPathParts()
	if len(parts) == 0 {
		return nil
	}
	if len(parts) > 1 {
		tuple := make([]any, len(parts))
		for i, p := range parts {
			v, ok := value[p]
			if !ok {
				return nil
			}
			tuple[i] = v
		}
		return []any{tuple}
	}

	v, ok := value[parts[0]]
	if !ok {
		return nil
	}
	if ix.MultiEntry {
		if slice, ok := v.([]any); ok {
			return slice
		}
	}
	return []any{v}
}

// nativeTxState is the copy-on-write working set for one native-backend
// transaction: clones of every store it may touch, applied back to the
// backend only on commit.
type nativeTxState struct {
	backend *NativeBackend
	stores  map[string]*nativeStore
}

// NativeBackend is the in-process object-store driver: no SQL, no
// network, just sorted slices protected by a single mutex. Used both for
// tests and for callers who want the store contract without running a
// real database.
type NativeBackend struct {
	mu       sync.Mutex
	schema   *DatabaseSchema
	stores   map[string]*nativeStore
	ready    bool
	onFail   []func(error)
}

func NewNativeBackend() *NativeBackend {
	return &NativeBackend{stores: make(map[string]*nativeStore)}
}

func (b *NativeBackend) connect(_ context.Context, schema *DatabaseSchema) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schema = schema
	for name, s := range schema.Stores {
		if _, ok := b.stores[name]; !ok {
			b.stores[name] = newNativeStore(s)
		}
	}
	b.ready = true
	return nil
}

func (b *NativeBackend) isReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *NativeBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = false
	return nil
}

func (b *NativeBackend) onDisconnected(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFail = append(b.onFail, fn)
}

func (b *NativeBackend) cmp(a, c any) int {
	return cmp(a, c)
}

// doTransaction snapshots the named stores (or every store, for a
// versionchange) under the backend mutex, runs fn against the snapshot
// without holding the lock, then reacquires it to publish the snapshot
// back atomically on success. This mirrors the source's "req_done"
// commit-or-rollback semantics: concurrent readers never observe a
// partially applied write, and a failing transaction leaves the backend
// completely untouched.
func (b *NativeBackend) doTransaction(ctx context.Context, storeNames []string, mode TransactionMode, fn TxFn) (any, error) {
	b.mu.Lock()
	if !b.ready {
		b.mu.Unlock()
		return nil, newErr(KindInvalidState, "doTransaction", fmt.Errorf("native backend is not connected"))
	}

	names := storeNames
	if mode == VersionChange || len(names) == 0 {
		names = make([]string, 0, len(b.stores))
		for n := range b.stores {
			names = append(names, n)
		}
	}

	stores := make([]*nativeStore, len(names))
	for i, n := range names {
		s, ok := b.stores[n]
		if !ok {
			b.mu.Unlock()
			return nil, newErr(KindConstraint, "doTransaction", fmt.Errorf("no such store %q", n))
		}
		stores[i] = s
	}
	b.mu.Unlock()

	// Cloning is the expensive part of snapshotting a multi-store
	// transaction (a versionchange touches every declared store), and each
	// store's clone is independent of the others, so fan it out.
	clones := make([]*nativeStore, len(names))
	g, _ := errgroup.WithContext(ctx)
	for i, s := range stores {
		i, s := i, s
		g.Go(func() error {
			clones[i] = s.clone()
			return nil
		})
	}
	_ = g.Wait() // clone never returns an error

	snapshot := &nativeTxState{backend: b, stores: make(map[string]*nativeStore, len(names))}
	for i, n := range names {
		snapshot.stores[n] = clones[i]
	}

	tx := &Tx{ctx: ctx, Mode: mode, StoreNames: names, native: snapshot}
	result, err := fn(tx)
	tx.done = true
	if err != nil {
		return nil, err
	}

	if mode != ReadOnly {
		b.mu.Lock()
		for n, s := range snapshot.stores {
			b.stores[n] = s
		}
		b.mu.Unlock()
	}

	return result, nil
}

// storeFor resolves the working nativeStore for name within tx, the
// entry point every store API function (put/get/scan/...) uses to reach
// native-backend storage.
func storeFor(tx *Tx, name string) (*nativeStore, error) {
	if tx.native == nil {
		return nil, newErr(KindInvalidOperation, "storeFor", fmt.Errorf("transaction is not owned by the native backend"))
	}
	s, ok := tx.native.stores[name]
	if !ok {
		return nil, newErr(KindConstraint, "storeFor", fmt.Errorf("store %q not included in this transaction", name))
	}
	return s, nil
}
