package shimstore

import "context"

// TransactionMode names the three transaction kinds the contract allows:
// readonly and readwrite run concurrently against separate stores,
// versionchange is exclusive and carries schema mutation privileges.
type TransactionMode int

const (
	ReadOnly TransactionMode = iota
	ReadWrite
	VersionChange
)

func (m TransactionMode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return "unknown"
	}
}

// TxFn is the closure a caller hands to doTransaction; it runs with
// exclusive or shared access (depending on mode) to the named stores and
// returns whatever value the caller wants surfaced through the resulting
// Result.
type TxFn func(tx *Tx) (any, error)

// Backend is the contract every storage driver (native or SQL) must
// satisfy: drivers are pluggable, the connection manager and transaction
// queue depend only on this interface.
type Backend interface {
	// connect opens the backend against the given schema, performing
	// whatever reconciliation the driver needs (schema diff + migration
	// for SQL, in-memory store creation for the native backend).
	connect(ctx context.Context, schema *DatabaseSchema) error

	// doTransaction runs fn with access scoped to mode and the named
	// stores. It blocks until fn returns and the transaction has been
	// committed or rolled back.
	doTransaction(ctx context.Context, storeNames []string, mode TransactionMode, fn TxFn) (any, error)

	// cmp exposes the backend's own total order over key values, which
	// must agree with the package-level cmp function; SQL backends may
	// additionally need this to project ORDER BY correctly per column
	// type, but the values themselves are always ordered the same way.
	cmp(a, b any) int

	// isReady reports whether the backend has completed connect and can
	// accept transactions.
	isReady() bool

	// close releases the backend's resources. No further transactions
	// may be started afterward.
	close() error

	// onDisconnected registers a callback invoked when the backend
	// detects it has lost its connection (e.g. the underlying *sql.DB
	// reports the server is gone).
	onDisconnected(fn func(error))
}
