package shimstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// KeyType is the declared type of a store's primary key or an index's key,
// used to pick the correct total order (numbers < dates < strings <
// tuples). The SQL backend does not map it to a column type: every column
// it creates is TEXT.
type KeyType int

const (
	KeyTypeNumber KeyType = iota
	KeyTypeString
	KeyTypeDate
	KeyTypeTuple
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeNumber:
		return "number"
	case KeyTypeString:
		return "string"
	case KeyTypeDate:
		return "date"
	case KeyTypeTuple:
		return "tuple"
	default:
		return "unknown"
	}
}

// IndexSchema declares one secondary index on a store.
type IndexSchema struct {
	Name       string  `json:"name"`
	KeyPath    any     `json:"keyPath"` // string, []string (tuple), or nil (no index entries are created)
	Type       KeyType `json:"type"`
	Unique     bool    `json:"unique"`
	MultiEntry bool    `json:"multiEntry"`
}

func (i IndexSchema) keyPathParts() []string {
	return normalizeKeyPath(i.KeyPath)
}

func (i IndexSchema) similar(o IndexSchema) bool {
	if i.Name != o.Name || i.Unique != o.Unique || i.MultiEntry != o.MultiEntry {
		return false
	}
	if i.effectiveType() != o.effectiveType() {
		return false
	}
	return keyPathEqual(i.KeyPath, o.KeyPath)
}

// effectiveType resolves the declared type, defaulting to tuple when the
// key path names more than one field: a multi-segment key path implies a
// tuple key.
func (i IndexSchema) effectiveType() KeyType {
	if len(i.keyPathParts()) > 1 {
		return KeyTypeTuple
	}
	return i.Type
}

// StoreSchema declares one object store: its primary key shape and its
// secondary indexes.
type StoreSchema struct {
	Name       string        `json:"name"`
	KeyPath    any           `json:"keyPath"` // string, []string, or nil for out-of-line keys
	AutoIncrement bool       `json:"autoIncrement"`
	Type       KeyType       `json:"type"`
	Indexes    []IndexSchema `json:"indexes"`
}

func (s StoreSchema) keyPathParts() []string {
	return normalizeKeyPath(s.KeyPath)
}

// outOfLine reports whether records in this store carry their primary key
// externally (put's key argument) rather than embedded at KeyPath.
func (s StoreSchema) outOfLine() bool {
	return s.KeyPath == nil
}

// effectiveType mirrors IndexSchema.effectiveType: a multi-segment key path
// always implies a tuple primary key regardless of the declared Type.
func (s StoreSchema) effectiveType() KeyType {
	if len(s.keyPathParts()) > 1 {
		return KeyTypeTuple
	}
	return s.Type
}

func (s StoreSchema) index(name string) (IndexSchema, bool) {
	for _, ix := range s.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return IndexSchema{}, false
}

// similar reports whether two store declarations describe the same shape:
// same key path, same type, and the same set of indexes (order
// independent), each pairwise similar. Its only caller is
// DatabaseSchema.similar; connecting a backend does not consult it.
func (s StoreSchema) similar(o StoreSchema) bool {
	if s.Name != o.Name || s.AutoIncrement != o.AutoIncrement {
		return false
	}
	if s.effectiveType() != o.effectiveType() {
		return false
	}
	if !keyPathEqual(s.KeyPath, o.KeyPath) {
		return false
	}
	if len(s.Indexes) != len(o.Indexes) {
		return false
	}
	byName := make(map[string]IndexSchema, len(o.Indexes))
	for _, ix := range o.Indexes {
		byName[ix.Name] = ix
	}
	for _, ix := range s.Indexes {
		other, ok := byName[ix.Name]
		if !ok || !ix.similar(other) {
			return false
		}
	}
	return true
}

// DatabaseSchema is the full declared shape of a connection: its version
// and the stores it contains.
type DatabaseSchema struct {
	Version int                    `json:"version"`
	Stores  map[string]StoreSchema `json:"stores"`
	// AutoSchema permits addStore to create stores that were not declared
	// up front, mirroring the source's "autoSchema" connection option.
	AutoSchema bool `json:"-"`
}

func NewDatabaseSchema(version int) *DatabaseSchema {
	return &DatabaseSchema{Version: version, Stores: make(map[string]StoreSchema)}
}

// addStore registers a new store schema. It is a ConstraintError to add a
// store that already exists, or to add one at all when AutoSchema is
// false and the caller is not inside a versionchange transaction. The
// versionchange gate itself is enforced by the connection manager; this
// method only enforces the name-collision and name-validity rules.
func (d *DatabaseSchema) addStore(s StoreSchema) error {
	if s.Name == "" {
		return argErr("addStoreSchema", "store name must not be empty")
	}
	if err := validateIdentifier(s.Name); err != nil {
		return argErr("addStoreSchema", err.Error())
	}
	if _, exists := d.Stores[s.Name]; exists {
		return newErr(KindConstraint, "addStoreSchema", fmt.Errorf("store %q already declared", s.Name))
	}
	for _, ix := range s.Indexes {
		if err := validateIdentifier(ix.Name); err != nil {
			return argErr("addStoreSchema", err.Error())
		}
	}
	d.Stores[s.Name] = s
	return nil
}

func (d *DatabaseSchema) store(name string) (StoreSchema, error) {
	s, ok := d.Stores[name]
	if !ok {
		return StoreSchema{}, newErr(KindConstraint, "store", fmt.Errorf("no such store %q", name))
	}
	return s, nil
}

// similar compares two database schemas store-for-store, ignoring
// declaration order. Open and the backends' connect do not call it, so a
// schema difference never triggers a versionchange migration.
func (d *DatabaseSchema) similar(o *DatabaseSchema) bool {
	if len(d.Stores) != len(o.Stores) {
		return false
	}
	for name, s := range d.Stores {
		os, ok := o.Stores[name]
		if !ok || !s.similar(os) {
			return false
		}
	}
	return true
}

// storeNames returns the declared store names in stable sorted order, used
// anywhere a schema needs to be walked deterministically (diagnostics,
// reconciliation logging, PrintSchematic-style dumps).
func (d *DatabaseSchema) storeNames() []string {
	names := make([]string, 0, len(d.Stores))
	for n := range d.Stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON gives DatabaseSchema a stable field order so schema dumps
// diff cleanly across runs.
func (d *DatabaseSchema) MarshalJSON() ([]byte, error) {
	type storeEntry struct {
		StoreSchema
	}
	ordered := struct {
		Version int           `json:"version"`
		Stores  []StoreSchema `json:"stores"`
	}{Version: d.Version}
	for _, name := range d.storeNames() {
		ordered.Stores = append(ordered.Stores, d.Stores[name])
	}
	return json.Marshal(ordered)
}

func (d *DatabaseSchema) UnmarshalJSON(b []byte) error {
	var raw struct {
		Version int           `json:"version"`
		Stores  []StoreSchema `json:"stores"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.Version = raw.Version
	d.Stores = make(map[string]StoreSchema, len(raw.Stores))
	for _, s := range raw.Stores {
		d.Stores[s.Name] = s
	}
	return nil
}

// normalizeKeyPath accepts the key-path shapes the source allows: a bare
// field name, a slice of field names (a tuple key), or nil (out-of-line
// key), and returns the field-name segments. A single-element result
// means a scalar key path; more than one means a tuple.
func normalizeKeyPath(kp any) []string {
	switch v := kp.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	default:
		return nil
	}
}

func keyPathEqual(a, b any) bool {
	pa, pb := normalizeKeyPath(a), normalizeKeyPath(b)
	if len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		if pa[i] != pb[i] {
			return false
		}
	}
	return true
}

// ErrInvalidIdentifier is returned when a store or index name contains
// characters that would be unsafe to interpolate into SQL.
var ErrInvalidIdentifier = fmt.Errorf("shimstore: invalid identifier")

// validateIdentifier restricts store/index/column names to a safe
// whitelist so the SQL compiler can quote and interpolate them without
// risking injection. Unlike ValidateColumnName below (which additionally
// allows '*', '(', ')', ',' for full SQL expressions), schema identifiers
// are restricted to a single bare name.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidIdentifier)
	}
	for i, c := range name {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			continue
		}
		if i == 0 {
			return fmt.Errorf("%w: %q must start with a letter, digit, or underscore", ErrInvalidIdentifier, name)
		}
		return fmt.Errorf("%w: invalid character %q in identifier %q", ErrInvalidIdentifier, c, name)
	}
	return nil
}

// ValidateColumnName checks a SQL expression fragment (a projected column,
// possibly decorated with an aggregate call) for characters that are
// unsafe to interpolate directly into a statement. Kept from the
// teacher's whitelist design; used by the SQL query compiler when
// projecting compiled SELECT columns.
func ValidateColumnName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty column name", ErrInvalidIdentifier)
	}
	for _, c := range name {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' || c == '*' ||
			c == ' ' || c == '(' || c == ')' || c == ',' || c == '"' {
			continue
		}
		return fmt.Errorf("%w: invalid character %q in column name %q", ErrInvalidIdentifier, c, name)
	}
	lower := strings.ToLower(name)
	for _, kw := range []string{"union", "insert", "update", "delete", "drop", "truncate", "alter", "exec", "execute", ";", "--"} {
		if strings.Contains(lower, kw) {
			return fmt.Errorf("%w: disallowed keyword %q in column name %q", ErrInvalidIdentifier, kw, name)
		}
	}
	return nil
}
