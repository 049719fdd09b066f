package shimstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/sirupsen/logrus"
)

// ConnectionOptions configures a Connection at open time: which
// mechanism-selection and schema options the caller wants in effect.
type ConnectionOptions struct {
	// Size hints the backend's expected record count; advisory only.
	// Neither the native nor the SQL backend reads it.
	Size int
	// AutoSchema permits addStoreSchema to create stores that were not
	// part of the schema passed to Open.
	AutoSchema bool
	// UseTextStore exposes the default string-keyed convenience store
	// (getItem/setItem/removeItem) backed by a store named "$text".
	UseTextStore bool
	// QueueStalenessWarning is how long the transaction queue may sit
	// non-empty without a pop before a diagnostic is logged. Zero
	// disables the check.
	QueueStalenessWarning time.Duration
}

const defaultTextStoreName = "$text"

// Connection is the connection manager: it owns exactly one
// backend, hands the declared schema to that backend's connect, and
// serializes every transaction request through a single
// logical executor goroutine, giving callers a single-threaded
// cooperative concurrency model.
type Connection struct {
	name    string
	backend Backend
	schema  *DatabaseSchema
	opts    ConnectionOptions
	log     *logrus.Entry

	queue  *txQueue
	wake   chan struct{}
	execCh chan func()
	stopCh chan struct{}
	stopWg sync.WaitGroup

	mu          sync.Mutex
	connected   bool
	closed      bool
	onConnected []func()
	onFail      []func(error)
}

// Open passes schema to backend.connect and starts the connection's
// executor goroutine. Reconciliation is whatever that connect does: the
// native backend creates stores it does not have yet, the SQL backend
// creates missing tables and only logs column drift on existing ones. Open
// does not compare schemas and does not run a versionchange transaction;
// stores or indexes that already exist are never altered. Mechanism selection (which concrete Backend to use) is the
// caller's responsibility: Open takes the backend already chosen rather
// than probing a list itself, since this module only ships two concrete
// backends and the choice between them is an explicit operational
// decision, not runtime detection.
func Open(ctx context.Context, name string, backend Backend, schema *DatabaseSchema, opts ConnectionOptions) (*Connection, error) {
	schema.AutoSchema = opts.AutoSchema
	if opts.UseTextStore {
		if _, ok := schema.Stores[defaultTextStoreName]; !ok {
			// Declared directly rather than through addStore: the reserved
			// "$" prefix is not a valid user identifier.
			schema.Stores[defaultTextStoreName] = StoreSchema{Name: defaultTextStoreName, KeyPath: "key", Type: KeyTypeString}
		}
	}

	log := newLogger("connection").WithField("connection", name)

	c := &Connection{
		name:    name,
		backend: backend,
		schema:  schema,
		opts:    opts,
		log:     log,
		queue:   newTxQueue(log),
		wake:    make(chan struct{}, 1),
		execCh:  make(chan func(), 64),
		stopCh:  make(chan struct{}),
	}

	if err := backend.connect(ctx, schema); err != nil {
		log.WithError(err).Error("backend connect failed")
		return nil, err
	}

	backend.onDisconnected(func(err error) {
		c.handleDisconnect(err)
	})

	c.mu.Lock()
	c.connected = true
	handlers := append([]func(){}, c.onConnected...)
	c.mu.Unlock()
	for _, h := range handlers {
		h()
	}
	log.Info("connected")

	c.stopWg.Add(1)
	go c.run()

	return c, nil
}

// OnConnected registers fn to run once the connection has established
// itself against its backend; if already connected, fn runs immediately.
func (c *Connection) OnConnected(fn func()) {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		fn()
		return
	}
	c.onConnected = append(c.onConnected, fn)
	c.mu.Unlock()
}

// OnFail registers fn to run if the backend reports it has lost its
// connection.
func (c *Connection) OnFail(fn func(error)) {
	c.mu.Lock()
	c.onFail = append(c.onFail, fn)
	c.mu.Unlock()
}

func (c *Connection) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	handlers := append([]func(error){}, c.onFail...)
	c.mu.Unlock()

	c.log.WithError(err).Error("backend disconnected, purging pending transactions")
	c.queue.purge(newErr(KindInvalidState, "doTransaction", err))

	for _, h := range handlers {
		h(err)
	}
}

// dispatch schedules fn to run on the executor goroutine, implementing
// the "next scheduler tick" callback semantics Result.Then relies on.
func (c *Connection) dispatch(fn func()) {
	select {
	case c.execCh <- fn:
	case <-c.stopCh:
	}
}

// Transaction enqueues fn to run against storeNames under mode, returning
// a Result that resolves once it has actually executed. Queueing is FIFO,
// dropping the oldest entry past 1000 pending requests, with
// versionchange transactions becoming sticky-exclusive until they
// complete.
func (c *Connection) Transaction(storeNames []string, mode TransactionMode, fn TxFn) *Result[any] {
	result := newResult[any](c.dispatch)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		result.reject(newErr(KindInvalidState, "doTransaction", fmt.Errorf("connection %q is closed", c.name)))
		return result
	}

	c.queue.push(newTxRequest(storeNames, mode, fn, result))
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return result
}

// run is the connection's single logical executor goroutine: it drains
// callback dispatches and transaction-queue pops, never running two
// transactions against this connection concurrently.
func (c *Connection) run() {
	defer c.stopWg.Done()

	staleness := c.opts.QueueStalenessWarning
	var stalenessTimer *time.Timer
	var stalenessCh <-chan time.Time
	if staleness > 0 {
		stalenessTimer = time.NewTimer(staleness)
		stalenessCh = stalenessTimer.C
		defer stalenessTimer.Stop()
	}

	for {
		select {
		case <-c.stopCh:
			return
		case fn := <-c.execCh:
			fn()
		case <-c.wake:
			c.drainQueue()
			if stalenessTimer != nil {
				stalenessTimer.Reset(staleness)
			}
		case <-stalenessCh:
			if c.queue.len() > 0 {
				c.log.Warn("transaction queue has pending work with no recent pop")
			}
			stalenessTimer.Reset(staleness)
		}
	}
}

func (c *Connection) drainQueue() {
	for {
		req := c.queue.pop()
		if req == nil {
			return
		}
		result, err := c.backend.doTransaction(context.Background(), req.storeNames, req.mode, req.fn)
		c.queue.release(req.mode)
		if err != nil {
			req.result.reject(err)
			continue
		}
		req.result.resolve(result)
	}
}

// GetSchema returns the connection's currently reconciled schema.
func (c *Connection) GetSchema() *DatabaseSchema {
	return c.schema
}

// IsReady reports whether the backend has finished connecting and is not
// currently closed.
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed && c.backend.isReady()
}

// Close stops the executor goroutine and releases the backend.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	c.stopWg.Wait()
	c.queue.purge(newErr(KindInvalidState, "doTransaction", fmt.Errorf("connection %q is closed", c.name)))
	return c.backend.close()
}

// AddStoreSchema declares a new store against the connection's schema.
// Only valid when the connection was opened with AutoSchema, or when
// called from within a versionchange transaction closure; the schema
// package itself enforces the name-collision rule, this enforces the
// mode gate.
func (c *Connection) AddStoreSchema(s StoreSchema, tx *Tx) error {
	if tx == nil || tx.Mode != VersionChange {
		if !c.schema.AutoSchema {
			return newErr(KindConstraint, "addStoreSchema", fmt.Errorf("schema changes require a versionchange transaction unless AutoSchema is enabled"))
		}
	}
	return c.schema.addStore(s)
}

// PrintSchematic renders the connection's declared schema as a table of
// stores and their indexes.
func (c *Connection) PrintSchematic() string {
	var out string
	out += fmt.Sprintf("backend: %T\nstores:\n", c.backend)
	for _, name := range c.schema.storeNames() {
		s := c.schema.Stores[name]
		out += fmt.Sprintf("\n%s (key=%v type=%s autoIncrement=%v)\n", s.Name, s.KeyPath, s.effectiveType(), s.AutoIncrement)
		w := table.NewWriter()
		w.AppendHeader(table.Row{"Index", "Key Path", "Type", "Unique", "MultiEntry"})
		for _, ix := range s.Indexes {
			w.AppendRow(table.Row{ix.Name, ix.KeyPath, ix.effectiveType(), ix.Unique, ix.MultiEntry})
		}
		out += w.Render() + "\n"
	}
	return out
}
