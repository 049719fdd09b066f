package shimstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKindMatchesWrappedError(t *testing.T) {
	err := newErr(KindConstraint, "put", errors.New("boom"))
	assert.True(t, IsKind(err, KindConstraint))
	assert.False(t, IsKind(err, KindArgument))
	assert.True(t, errors.Is(err, ErrConstraint))
	assert.False(t, errors.Is(err, ErrArgument))
}

func TestGetStoreErrorExtractsFromChain(t *testing.T) {
	inner := newErr(KindInvalidState, "cursor.advance", errors.New("exhausted"))
	wrapped := newErr(KindInternal, "outer", inner)
	se := GetStoreError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, KindInternal, se.Kind)
}

func TestWrapBackendErrorClassifiesUniqueViolation(t *testing.T) {
	err := WrapBackendError("put", "INSERT INTO users ...", nil, errors.New("Duplicate entry 'u1' for key 'PRIMARY'"))
	assert.True(t, IsKind(err, KindConstraint))
}

func TestWrapBackendErrorClassifiesSyntaxError(t *testing.T) {
	err := WrapBackendError("query", "SELEKT *", nil, errors.New("syntax error near SELEKT"))
	assert.True(t, IsKind(err, KindSqlParse))
}

func TestWrapBackendErrorPassesThroughStoreError(t *testing.T) {
	original := newErr(KindArgument, "put", errors.New("bad value"))
	err := WrapBackendError("put", "", nil, original)
	assert.Same(t, original, GetStoreError(err))
}

func TestWrapBackendErrorNilIsNil(t *testing.T) {
	assert.Nil(t, WrapBackendError("op", "", nil, nil))
}

func TestStoreErrorMessageIncludesStoreAndQuery(t *testing.T) {
	err := &StoreError{Kind: KindInternal, Op: "get", Store: "users", Query: "SELECT 1", Err: errors.New("oops")}
	msg := err.Error()
	assert.Contains(t, msg, "users")
	assert.Contains(t, msg, "SELECT 1")
	assert.Contains(t, msg, "oops")
}
