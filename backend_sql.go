package shimstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// SQLBackend is the relational storage engine: a thin
// wrapper over database/sql that reconciles a declared DatabaseSchema
// against the live table set and runs compiled Query IR directly on the
// caller's transaction. It holds an LRU of prepared statements (see
// prepared), but query execution does not go through that cache.
type SQLBackend struct {
	db      *sql.DB
	dialect *Dialect
	schema  *DatabaseSchema

	stmtCache *lru.Cache[string, *sql.Stmt]
	log       *logrus.Entry

	mu       sync.Mutex
	ready    bool
	onFail   []func(error)
}

// NewSQLBackend wraps an already-opened *sql.DB. cacheSize bounds the
// number of prepared statements kept alive at once, backed by an LRU that
// evicts the statement's underlying *sql.Stmt via Close when it falls out
// of the cache.
func NewSQLBackend(db *sql.DB, driverName string, cacheSize int) (*SQLBackend, error) {
	d, err := dialectFor(driverName)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.NewWithEvict(cacheSize, func(_ string, stmt *sql.Stmt) {
		_ = stmt.Close()
	})
	if err != nil {
		return nil, err
	}
	return &SQLBackend{db: db, dialect: d, stmtCache: cache, log: newLogger("sqlbackend")}, nil
}

func (b *SQLBackend) cmp(a, c any) int {
	return cmp(a, c)
}

func (b *SQLBackend) isReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *SQLBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = false
	b.stmtCache.Purge()
	return b.db.Close()
}

func (b *SQLBackend) onDisconnected(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFail = append(b.onFail, fn)
}

func (b *SQLBackend) notifyDisconnected(err error) {
	b.mu.Lock()
	handlers := append([]func(error){}, b.onFail...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// connect reconciles schema against the live database: for every declared
// store, create the table if the store is new, or diff its columns
// against the existing table when it already exists. Column-level
// migration beyond "table missing" is out of scope; reconciliation here
// only ensures every declared store has a backing table with its primary
// key and index columns.
func (b *SQLBackend) connect(ctx context.Context, schema *DatabaseSchema) error {
	existing, err := listTables(b.db, b.dialect)
	if err != nil {
		return WrapBackendError("connect", b.dialect.QueryListTables, nil, err)
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[strings.ToLower(t)] = true
	}

	for _, name := range schema.storeNames() {
		s := schema.Stores[name]
		if have[strings.ToLower(name)] {
			b.warnOnColumnDrift(s)
			continue
		}
		stmt := b.createTableStatement(s)
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return WrapBackendError("connect", stmt, nil, err)
		}
	}

	b.mu.Lock()
	b.schema = schema
	b.ready = true
	b.mu.Unlock()
	return nil
}

// warnOnColumnDrift compares an already-existing table's columns against
// the declared store's key and index columns and logs a warning for any
// declared column the table doesn't have. It never blocks connect and
// never alters the table: column-level migration is out of scope (the
// SQL-completeness non-goal), this only surfaces drift a human would
// otherwise discover the hard way, the first time a query against a
// missing column fails.
func (b *SQLBackend) warnOnColumnDrift(s StoreSchema) {
	cols, err := tableSchema(b.db, b.dialect, s.Name)
	if err != nil {
		b.log.WithError(err).WithField("store", s.Name).Warn("could not introspect existing table for schema drift")
		return
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[strings.ToLower(c.Name)] = true
	}

	want := []string{primaryKeyColumn(s)}
	for _, ix := range s.Indexes {
		if parts := ix.keyPathParts(); len(parts) == 1 {
			want = append(want, toColumn(parts[0]))
		}
	}
	for _, w := range want {
		if !have[strings.ToLower(w)] {
			b.log.WithFields(logrus.Fields{"store": s.Name, "column": w}).
				Warn("declared schema names a column the existing table does not have")
		}
	}
}

func (b *SQLBackend) createTableStatement(s StoreSchema) string {
	d := b.dialect
	keyCol := primaryKeyColumn(s)

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(d.quoteIdent(s.Name))
	sb.WriteString(" (")
	sb.WriteString(d.quoteIdent(keyCol))
	sb.WriteString(" TEXT PRIMARY KEY")

	seen := map[string]bool{keyCol: true}
	for _, ix := range s.Indexes {
		parts := ix.keyPathParts()
		if len(parts) != 1 {
			continue // tuple-keyed indexes have no single backing column to create
		}
		col := toColumn(parts[0])
		if seen[col] {
			continue
		}
		seen[col] = true
		sb.WriteString(", ")
		sb.WriteString(d.quoteIdent(col))
		sb.WriteString(" TEXT")
	}
	sb.WriteString(")")
	return sb.String()
}

// prepared returns a cached prepared statement for query, preparing and
// caching it on first use.
func (b *SQLBackend) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := b.stmtCache.Get(query); ok {
		return stmt, nil
	}
	stmt, err := b.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	b.stmtCache.Add(query, stmt)
	return stmt, nil
}

func (b *SQLBackend) doTransaction(ctx context.Context, storeNames []string, mode TransactionMode, fn TxFn) (any, error) {
	result, err := runSQLTransaction(ctx, b.db, b.dialect, mode, storeNames, fn)
	if err != nil && isConnectionLost(err) {
		b.mu.Lock()
		b.ready = false
		b.mu.Unlock()
		b.notifyDisconnected(err)
	}
	return result, err
}

// isConnectionLost reports whether err indicates the underlying driver
// connection itself is gone, as opposed to an ordinary query failure.
// That distinction decides whether the backend should fire its
// onDisconnected handlers (and, in turn, purge the connection manager's
// transaction queue) or just return the error to this one caller.
func isConnectionLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset")
}

// runQuery executes a compiled Query IR against the SQL backend inside an
// already-open Tx, returning decoded rows in statement order.
func (b *SQLBackend) runQuery(tx *Tx, storeSchema StoreSchema, q Query) ([]map[string]any, error) {
	plan, err := compileSQL(q, storeSchema, b.dialect)
	if err != nil {
		return nil, err
	}
	rows, err := b.execRows(tx, plan.Statement, plan.Args)
	if err != nil || !plan.Distinct || q.Index == "" {
		return rows, err
	}
	// DISTINCT over whole rows cannot collapse rows that share an index key
	// but differ in primary key, so keep the first row of each run here.
	col := fieldColumn(storeSchema, q.Index)
	var deduped []map[string]any
	for _, r := range rows {
		if n := len(deduped); n > 0 && cmp(r[col], deduped[n-1][col]) == 0 {
			continue
		}
		deduped = append(deduped, r)
	}
	return deduped, nil
}

func (b *SQLBackend) execRows(tx *Tx, statement string, args []any) ([]map[string]any, error) {
	if tx.sqlTx == nil {
		return nil, newErr(KindInvalidOperation, "execRows", fmt.Errorf("transaction is not owned by the SQL backend"))
	}
	rows, err := tx.sqlTx.QueryContext(tx.ctx, statement, args...)
	if err != nil {
		return nil, WrapBackendError("query", statement, args, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, WrapBackendError("query", statement, args, err)
	}

	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, WrapBackendError("query", statement, args, err)
		}
		record := make(map[string]any, len(cols))
		for i, c := range cols {
			record[c] = dest[i]
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (b *SQLBackend) exec(tx *Tx, statement string, args []any) (sql.Result, error) {
	if tx.sqlTx == nil {
		return nil, newErr(KindInvalidOperation, "exec", fmt.Errorf("transaction is not owned by the SQL backend"))
	}
	res, err := tx.sqlTx.ExecContext(tx.ctx, statement, args...)
	if err != nil {
		return nil, WrapBackendError("exec", statement, args, err)
	}
	return res, nil
}
