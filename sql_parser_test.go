package shimstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSQLSimpleSelect(t *testing.T) {
	sel, err := parseSQL(`SELECT * FROM "users" WHERE age > 21 ORDER BY name DESC LIMIT 10 OFFSET 5`)
	require.NoError(t, err)
	assert.Equal(t, "users", sel.Store)
	assert.Equal(t, []string{"*"}, sel.Columns)
	require.Len(t, sel.Wheres, 1)
	assert.Equal(t, "age", sel.Wheres[0].Field)
	assert.Equal(t, ">", sel.Wheres[0].Op)
	assert.EqualValues(t, 21, sel.Wheres[0].Value)
	assert.Equal(t, "name", sel.OrderBy)
	assert.True(t, sel.Desc)
	assert.Equal(t, 10, sel.Limit)
	assert.Equal(t, 5, sel.Offset)
}

func TestParseSQLAggregate(t *testing.T) {
	sel, err := parseSQL(`SELECT COUNT(*) FROM "users"`)
	require.NoError(t, err)
	assert.Equal(t, "COUNT", sel.Aggregate)
}

func TestParseSQLAndChain(t *testing.T) {
	sel, err := parseSQL(`SELECT * FROM "users" WHERE age > 21 AND name = 'bob'`)
	require.NoError(t, err)
	require.Len(t, sel.Wheres, 2)
	assert.Equal(t, "bob", sel.Wheres[1].Value)
}

func TestParseSQLRejectsUnknownGrammar(t *testing.T) {
	_, err := parseSQL(`SELECT * FROM users JOIN other ON users.id = other.id`)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSqlParse))
}

func TestParseSQLRejectsMissingFrom(t *testing.T) {
	_, err := parseSQL(`SELECT *`)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSqlParse))
}
