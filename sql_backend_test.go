package shimstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLiteConnection(t *testing.T) *Connection {
	t.Helper()
	backend, err := ConnectSQLite(":memory:", 32)
	require.NoError(t, err)

	schema := NewDatabaseSchema(1)
	require.NoError(t, schema.addStore(StoreSchema{
		Name:    "users",
		KeyPath: "id",
		Type:    KeyTypeString,
		Indexes: []IndexSchema{
			{Name: "age", KeyPath: "age", Type: KeyTypeNumber},
		},
	}))

	conn, err := Open(context.Background(), "sqlite-test", backend, schema, ConnectionOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSQLBackendPutGetRemove(t *testing.T) {
	conn := openSQLiteConnection(t)

	_, err := conn.Put(context.Background(), "users", map[string]any{"id": "u1", "age": 25}, nil).Wait()
	require.NoError(t, err)

	v, err := conn.Get(context.Background(), "users", "u1").Wait()
	require.NoError(t, err)
	record := v.(map[string]any)
	assert.Equal(t, "u1", record["id"])

	removed, err := conn.Remove(context.Background(), "users", "u1").Wait()
	require.NoError(t, err)
	assert.True(t, removed.(bool))

	v, err = conn.Get(context.Background(), "users", "u1").Wait()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSQLBackendAddRejectsDuplicateKey(t *testing.T) {
	conn := openSQLiteConnection(t)

	_, err := conn.Add(context.Background(), "users", map[string]any{"id": "dup", "age": 1}, nil).Wait()
	require.NoError(t, err)

	_, err = conn.Add(context.Background(), "users", map[string]any{"id": "dup", "age": 2}, nil).Wait()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConstraint))
}

func TestSQLBackendClearReportsCount(t *testing.T) {
	conn := openSQLiteConnection(t)
	for i := 0; i < 3; i++ {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": i}, nil).Wait()
		require.NoError(t, err)
	}
	n, err := conn.Clear(context.Background(), "users").Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLBackendOpenCursorScansInOrder(t *testing.T) {
	conn := openSQLiteConnection(t)
	for i, age := range []int{30, 10, 20} {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": age}, nil).Wait()
		require.NoError(t, err)
	}

	var ages []any
	_, err := conn.OpenCursor(context.Background(), "users", Query{Index: "age", Direction: DirNext}, ReadOnly, func(cur *Cursor) (any, error) {
		for cur.hasCursor() {
			k, err := cur.getIndexKey()
			if err != nil {
				return nil, err
			}
			ages = append(ages, k)
			if err := cur.advance(1); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}).Wait()
	require.NoError(t, err)
	assert.Len(t, ages, 3)
}

func TestSQLBackendOpenCursorUpdatePersists(t *testing.T) {
	conn := openSQLiteConnection(t)
	for i, age := range []int{30, 10, 20} {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": age}, nil).Wait()
		require.NoError(t, err)
	}

	var updatedID any
	_, err := conn.OpenCursor(context.Background(), "users", Query{Index: "age", Direction: DirNext}, ReadWrite, func(cur *Cursor) (any, error) {
		require.NoError(t, cur.start())
		pk, err := cur.getPrimaryKey()
		if err != nil {
			return nil, err
		}
		updatedID = pk
		if _, err := cur.update(map[string]any{"age": 11}); err != nil {
			return nil, err
		}
		return nil, nil
	}).Wait()
	require.NoError(t, err)

	v, err := conn.Get(context.Background(), "users", updatedID).Wait()
	require.NoError(t, err)
	record := v.(map[string]any)
	assert.Equal(t, 11, record["age"])
}

func TestSQLBackendOpenCursorClearDeletesAndReportsCount(t *testing.T) {
	conn := openSQLiteConnection(t)
	for i, age := range []int{30, 10, 20} {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": age}, nil).Wait()
		require.NoError(t, err)
	}

	var firstClear, secondClear int
	_, err := conn.OpenCursor(context.Background(), "users", Query{Index: "age", Direction: DirNext}, ReadWrite, func(cur *Cursor) (any, error) {
		require.NoError(t, cur.start())
		n, err := cur.clear()
		if err != nil {
			return nil, err
		}
		firstClear = n
		n, err = cur.clear()
		if err != nil {
			return nil, err
		}
		secondClear = n
		return nil, nil
	}).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, firstClear)
	assert.Equal(t, 0, secondClear, "clearing an already-cleared position removes nothing")
}

func TestSQLBackendOpenCursorRestartResumesPastTightenedBound(t *testing.T) {
	conn := openSQLiteConnection(t)
	for i, age := range []int{10, 20, 30, 40} {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": age}, nil).Wait()
		require.NoError(t, err)
	}

	var resumed []any
	_, err := conn.OpenCursor(context.Background(), "users", Query{Index: "age", Direction: DirNext}, ReadOnly, func(cur *Cursor) (any, error) {
		require.NoError(t, cur.start())
		require.NoError(t, cur.advance(2)) // now positioned at age 30, id 2

		pk, err := cur.getPrimaryKey()
		if err != nil {
			return nil, err
		}
		if err := cur.restart(20, pk, false); err != nil {
			return nil, err
		}
		for cur.hasCursor() {
			k, err := cur.getIndexKey()
			if err != nil {
				return nil, err
			}
			resumed = append(resumed, k)
			if err := cur.advance(1); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}).Wait()
	require.NoError(t, err)
	assert.Equal(t, []any{30, 40}, resumed, "restart tightens the bound to effectiveKey then skips forward to the resume row")
}

func TestSQLBackendOpenCursorContinueEffectiveKeyRejectsWrongDirection(t *testing.T) {
	conn := openSQLiteConnection(t)
	for i, age := range []int{10, 20, 30} {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": age}, nil).Wait()
		require.NoError(t, err)
	}

	_, err := conn.OpenCursor(context.Background(), "users", Query{Index: "age", Direction: DirNext}, ReadOnly, func(cur *Cursor) (any, error) {
		require.NoError(t, cur.start())
		require.NoError(t, cur.advance(2)) // positioned at age 30

		cErr := cur.continueEffectiveKey(20)
		return nil, cErr
	}).Wait()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidOperation))
}
