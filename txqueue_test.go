package shimstore

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestTxQueuePushPopFIFO(t *testing.T) {
	q := newTxQueue(silentLogger())
	r1 := newTxRequest(nil, ReadWrite, nil, newResult[any](nil))
	r2 := newTxRequest(nil, ReadWrite, nil, newResult[any](nil))
	q.push(r1)
	q.push(r2)

	assert.Equal(t, 2, q.len())
	assert.Same(t, r1, q.pop())
	assert.Same(t, r2, q.pop())
	assert.Nil(t, q.pop())
}

func TestTxQueueOverflowDropsOldest(t *testing.T) {
	q := newTxQueue(silentLogger())
	first := newTxRequest(nil, ReadWrite, nil, newResult[any](nil))
	q.push(first)
	for i := 0; i < maxQueueLength; i++ {
		q.push(newTxRequest(nil, ReadWrite, nil, newResult[any](nil)))
	}

	assert.Equal(t, maxQueueLength, q.len())
	_, err := first.result.Wait()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidState))
}

func TestTxQueueVersionChangeIsSticky(t *testing.T) {
	q := newTxQueue(silentLogger())
	vc := newTxRequest(nil, VersionChange, nil, newResult[any](nil))
	ordinary := newTxRequest(nil, ReadWrite, nil, newResult[any](nil))
	q.push(vc)
	q.push(ordinary)

	popped := q.pop()
	assert.Same(t, vc, popped)
	assert.Nil(t, q.pop(), "queue must not yield another request while a versionchange is exclusive")

	q.release(VersionChange)
	assert.Same(t, ordinary, q.pop())
}

func TestTxQueuePurgeRejectsAllPending(t *testing.T) {
	q := newTxQueue(silentLogger())
	r1 := newTxRequest(nil, ReadWrite, nil, newResult[any](nil))
	r2 := newTxRequest(nil, ReadWrite, nil, newResult[any](nil))
	q.push(r1)
	q.push(r2)

	cause := newErr(KindInvalidState, "doTransaction", errQueueOverflow)
	q.purge(cause)

	assert.Equal(t, 0, q.len())
	_, err := r1.result.Wait()
	require.Error(t, err)
	_, err = r2.result.Wait()
	require.Error(t, err)
}
