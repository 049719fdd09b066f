package shimstore

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// txRequest is one entry in the transaction queue: a pending TxFn plus the
// scope it was requested under and the Result that will be resolved once
// it runs. id is a correlation id for the queue-overflow and staleness
// diagnostics, distinct from any backend-assigned identifier.
type txRequest struct {
	id         string
	storeNames []string
	mode       TransactionMode
	fn         TxFn
	result     *Result[any]
}

func newTxRequest(storeNames []string, mode TransactionMode, fn TxFn, result *Result[any]) *txRequest {
	return &txRequest{id: uuid.NewString(), storeNames: storeNames, mode: mode, fn: fn, result: result}
}

// maxQueueLength bounds the transaction queue: beyond
// this many pending requests, the oldest is dropped (not the newest) so a
// burst of transactions never blocks forever, at the cost of starving the
// requests that arrived first.
const maxQueueLength = 1000

// txQueue is the connection manager's FIFO transaction queue. A pending
// versionchange request makes the queue sticky-exclusive: no further
// request is popped until the versionchange transaction completes,
// matching the source's requirement that schema migrations never run
// concurrently with ordinary reads/writes.
type txQueue struct {
	mu          sync.Mutex
	items       []*txRequest
	exclusive   bool // true while a versionchange transaction owns the queue
	log         *logrus.Entry
}

func newTxQueue(log *logrus.Entry) *txQueue {
	return &txQueue{log: log}
}

// push appends req to the queue, dropping the oldest entry (and
// resolving it with an InvalidStateError) when the queue is already at
// capacity.
func (q *txQueue) push(req *txRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= maxQueueLength {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.log.WithFields(logrus.Fields{"queue_len": len(q.items), "dropped_tx": dropped.id}).Warn("transaction queue overflow, dropping oldest pending transaction")
		dropped.result.reject(newErr(KindInvalidState, "doTransaction", errQueueOverflow))
	}
	q.items = append(q.items, req)
}

// pop removes and returns the next runnable request, or nil if the queue
// is empty or currently held exclusive by an in-flight versionchange
// transaction (in which case the caller should wait for release()).
func (q *txQueue) pop() *txRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.exclusive || len(q.items) == 0 {
		return nil
	}

	req := q.items[0]
	q.items = q.items[1:]
	if req.mode == VersionChange {
		q.exclusive = true
	}
	return req
}

// release clears the exclusive flag set by popping a versionchange
// request, allowing the queue to resume draining.
func (q *txQueue) release(mode TransactionMode) {
	if mode != VersionChange {
		return
	}
	q.mu.Lock()
	q.exclusive = false
	q.mu.Unlock()
}

// purge drains every pending request and resolves each with err. Once a
// connection's backend reports it has failed, no queued transaction will
// ever run against it.
func (q *txQueue) purge(err error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.exclusive = false
	q.mu.Unlock()

	for _, req := range pending {
		req.result.reject(err)
	}
}

func (q *txQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var errQueueOverflow = errors.New("shimstore: transaction dropped, queue exceeded its maximum length")
