package shimstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmpTotalOrder(t *testing.T) {
	now := time.Now()
	values := []any{1, now, "a", []any{1, 2}}
	for i := 0; i < len(values); i++ {
		for j := 0; j < len(values); j++ {
			if i == j {
				continue
			}
			if i < j {
				assert.Negative(t, cmp(values[i], values[j]), "rank %d should sort before rank %d", i, j)
			} else {
				assert.Positive(t, cmp(values[i], values[j]), "rank %d should sort after rank %d", i, j)
			}
		}
	}
}

func TestCmpNumbers(t *testing.T) {
	assert.Equal(t, 0, cmp(1, 1.0))
	assert.Negative(t, cmp(1, 2))
	assert.Positive(t, cmp(2, 1))
}

func TestCmpTuplesElementwise(t *testing.T) {
	assert.Negative(t, cmp([]any{1, "a"}, []any{1, "b"}))
	assert.Equal(t, 0, cmp([]any{1, "a"}, []any{1, "a"}))
	assert.Negative(t, cmp([]any{1}, []any{1, "a"}), "shorter tuple that is a prefix sorts first")
}

func TestKeyRangeIncludes(t *testing.T) {
	r := bound(1, 10, false, true)
	assert.True(t, r.includes(1))
	assert.True(t, r.includes(5))
	assert.False(t, r.includes(10), "upper bound is open")
	assert.False(t, r.includes(0))

	only := only(5)
	assert.True(t, only.includes(5))
	assert.False(t, only.includes(6))
}

func TestKeyRangeWhereFragment(t *testing.T) {
	r := bound(1, 10, false, true)
	frag, args, err := r.whereFragment(`"age"`)
	require.NoError(t, err)
	assert.Equal(t, `"age" >= ? AND "age" < ?`, frag)
	assert.Equal(t, []any{1, 10}, args)
}

func TestKeyRangeWhereFragmentRejectsTuple(t *testing.T) {
	r := only([]any{1, 2})
	_, _, err := r.whereFragment(`"pk"`)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotImplemented))
}
