package shimstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is the handle a TxFn closure operates on. It is backend-agnostic at
// the type level: exactly one of sqlTx or native is populated, chosen by
// whichever Backend started it. The store API functions (put, get, list,
// ...) that run inside a transaction closure type-switch on these fields
// to reach the concrete storage.
type Tx struct {
	ctx        context.Context
	Mode       TransactionMode
	StoreNames []string
	done       bool

	sqlTx   *sql.Tx
	dialect *Dialect
	native  *nativeTxState
}

func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// writable reports whether the mode this transaction was opened under
// permits mutation.
func (tx *Tx) writable() bool {
	return tx.Mode == ReadWrite || tx.Mode == VersionChange
}

// runSQLTransaction executes fn against a fresh *sql.Tx from db, committing
// on success and rolling back on error or panic. Every SQL-backend
// transaction runs through this panic-safe defer; the native backend's
// doTransaction has its own snapshot-and-publish path without it.
func runSQLTransaction(ctx context.Context, db *sql.DB, dialect *Dialect, mode TransactionMode, storeNames []string, fn TxFn) (result any, err error) {
	opts := &sql.TxOptions{ReadOnly: mode == ReadOnly}
	sqlTx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return nil, WrapBackendError("doTransaction", "", nil, err)
	}

	tx := &Tx{ctx: ctx, Mode: mode, StoreNames: storeNames, sqlTx: sqlTx, dialect: dialect}

	defer func() {
		tx.done = true
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if cErr := sqlTx.Commit(); cErr != nil {
			err = WrapBackendError("doTransaction", "", nil, cErr)
		}
	}()

	result, err = fn(tx)
	return result, err
}
