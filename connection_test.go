package shimstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openNativeConnection(t *testing.T) *Connection {
	t.Helper()
	schema := NewDatabaseSchema(1)
	require.NoError(t, schema.addStore(StoreSchema{
		Name:    "users",
		KeyPath: "id",
		Type:    KeyTypeString,
		Indexes: []IndexSchema{
			{Name: "byAge", KeyPath: "age", Type: KeyTypeNumber},
		},
	}))

	conn, err := Open(context.Background(), "test", NewNativeBackend(), schema, ConnectionOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnectionPutGet(t *testing.T) {
	conn := openNativeConnection(t)

	_, err := conn.Put(context.Background(), "users", map[string]any{"id": "u1", "age": 22}, nil).Wait()
	require.NoError(t, err)

	v, err := conn.Get(context.Background(), "users", "u1").Wait()
	require.NoError(t, err)
	record := v.(map[string]any)
	assert.Equal(t, 22, record["age"])
}

func TestConnectionAddRejectsDuplicateKey(t *testing.T) {
	conn := openNativeConnection(t)

	_, err := conn.Add(context.Background(), "users", map[string]any{"id": "u1", "age": 1}, nil).Wait()
	require.NoError(t, err)

	_, err = conn.Add(context.Background(), "users", map[string]any{"id": "u1", "age": 2}, nil).Wait()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConstraint))
}

func TestConnectionPutGeneratesKeyWhenOutOfLine(t *testing.T) {
	schema := NewDatabaseSchema(1)
	require.NoError(t, schema.addStore(StoreSchema{Name: "logs", AutoIncrement: true, Type: KeyTypeString}))
	conn, err := Open(context.Background(), "logs-conn", NewNativeBackend(), schema, ConnectionOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	key, err := conn.Put(context.Background(), "logs", map[string]any{"message": "hello"}, nil).Wait()
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}

func TestConnectionClearReportsCount(t *testing.T) {
	conn := openNativeConnection(t)
	for i := 0; i < 3; i++ {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": i}, nil).Wait()
		require.NoError(t, err)
	}
	n, err := conn.Clear(context.Background(), "users").Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := conn.List(context.Background(), "users", Query{}).Wait()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConnectionListWithIndexRangeAndDirection(t *testing.T) {
	conn := openNativeConnection(t)
	ages := []int{30, 10, 20}
	for i, age := range ages {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": age}, nil).Wait()
		require.NoError(t, err)
	}

	rows, err := conn.List(context.Background(), "users", Query{
		Index:     "byAge",
		Direction: DirNext,
		Wheres:    []Where{{Field: "byAge", Range: bound(15, 35, true, true)}},
	}).Wait()
	require.NoError(t, err)
	result := rows.([]map[string]any)
	require.Len(t, result, 2)
	assert.Equal(t, 20, result[0]["age"])
	assert.Equal(t, 30, result[1]["age"])
}

func TestConnectionReduceSum(t *testing.T) {
	conn := openNativeConnection(t)
	for i, age := range []int{5, 10, 15} {
		_, err := conn.Add(context.Background(), "users", map[string]any{"id": i, "age": age}, nil).Wait()
		require.NoError(t, err)
	}

	v, err := conn.Reduce(context.Background(), "users", Query{Reduce: ReduceSum}, "age").Wait()
	require.NoError(t, err)
	assert.Equal(t, float64(30), v)
}

func TestConnectionSetGetRemoveItem(t *testing.T) {
	schema := NewDatabaseSchema(1)
	conn, err := Open(context.Background(), "items", NewNativeBackend(), schema, ConnectionOptions{UseTextStore: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.SetItem(context.Background(), "greeting", "hello").Wait()
	require.NoError(t, err)

	v, err := conn.GetItem(context.Background(), "greeting").Wait()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	_, err = conn.RemoveItem(context.Background(), "greeting").Wait()
	require.NoError(t, err)

	v, err = conn.GetItem(context.Background(), "greeting").Wait()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestConnectionOpenCursorNotImplementedOnNativeBackend(t *testing.T) {
	conn := openNativeConnection(t)
	_, err := conn.OpenCursor(context.Background(), "users", Query{}, ReadOnly, func(cur *Cursor) (any, error) {
		return nil, nil
	}).Wait()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotImplemented))
}
