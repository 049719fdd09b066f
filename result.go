package shimstore

import "sync"

// Result is a single-shot deferred value, a request-object pattern: an
// operation returns a Result immediately, and callers attach callbacks
// with Then. Resolution happens
// at most once; callbacks registered after resolution still fire, but on
// the connection's next scheduler tick rather than synchronously in the
// caller's goroutine, so a caller can never observe "sometimes
// synchronous, sometimes not" behavior depending on timing.
type Result[T any] struct {
	once    sync.Once
	mu      sync.Mutex
	value   T
	err     error
	done    bool
	waiters []func(T, error)

	dispatch func(func()) // schedules a callback on the owning connection's executor
}

// newResult creates a Result whose callbacks are dispatched via the given
// scheduler function (ordinarily a connection's executor channel send).
func newResult[T any](dispatch func(func())) *Result[T] {
	return &Result[T]{dispatch: dispatch}
}

// resolve completes the Result with a value. Only the first call has any
// effect; subsequent calls are no-ops, matching "resolved at most once".
func (r *Result[T]) resolve(v T) {
	r.once.Do(func() {
		r.mu.Lock()
		r.value = v
		r.done = true
		waiters := r.waiters
		r.waiters = nil
		r.mu.Unlock()
		r.fire(waiters)
	})
}

// reject completes the Result with an error.
func (r *Result[T]) reject(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.done = true
		waiters := r.waiters
		r.waiters = nil
		r.mu.Unlock()
		r.fire(waiters)
	})
}

func (r *Result[T]) fire(waiters []func(T, error)) {
	for _, w := range waiters {
		w := w
		r.schedule(func() { w(r.value, r.err) })
	}
}

func (r *Result[T]) schedule(fn func()) {
	if r.dispatch != nil {
		r.dispatch(fn)
		return
	}
	fn()
}

// Then registers callbacks for success and failure. If the Result has
// already settled, the appropriate callback is scheduled on the next
// tick immediately; otherwise it is queued and fired when resolve/reject
// is eventually called.
func (r *Result[T]) Then(onOK func(T), onErr func(error)) {
	r.mu.Lock()
	if r.done {
		v, err := r.value, r.err
		r.mu.Unlock()
		r.schedule(func() { invokeResult(v, err, onOK, onErr) })
		return
	}
	r.waiters = append(r.waiters, func(v T, err error) { invokeResult(v, err, onOK, onErr) })
	r.mu.Unlock()
}

func invokeResult[T any](v T, err error, onOK func(T), onErr func(error)) {
	if err != nil {
		if onErr != nil {
			onErr(err)
		}
		return
	}
	if onOK != nil {
		onOK(v)
	}
}

// Wait blocks until the Result settles and returns its value/error
// directly, for callers that want synchronous semantics (most tests, and
// any non-reentrant caller not itself running on the connection's
// executor goroutine).
func (r *Result[T]) Wait() (T, error) {
	done := make(chan struct{})
	var v T
	var err error
	r.Then(
		func(val T) { v = val; close(done) },
		func(e error) { err = e; close(done) },
	)
	<-done
	return v, err
}
