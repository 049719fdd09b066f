package shimstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseSchemaAddStoreRejectsDuplicate(t *testing.T) {
	d := NewDatabaseSchema(1)
	require.NoError(t, d.addStore(StoreSchema{Name: "users", KeyPath: "id", Type: KeyTypeString}))
	err := d.addStore(StoreSchema{Name: "users", KeyPath: "id", Type: KeyTypeString})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConstraint))
}

func TestDatabaseSchemaAddStoreRejectsBadName(t *testing.T) {
	d := NewDatabaseSchema(1)
	err := d.addStore(StoreSchema{Name: "bad name!", KeyPath: "id"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindArgument))
}

func TestStoreSchemaSimilar(t *testing.T) {
	a := StoreSchema{
		Name:    "users",
		KeyPath: "id",
		Type:    KeyTypeString,
		Indexes: []IndexSchema{{Name: "byEmail", KeyPath: "email", Type: KeyTypeString, Unique: true}},
	}
	b := a
	b.Indexes = []IndexSchema{{Name: "byEmail", KeyPath: "email", Type: KeyTypeString, Unique: true}}
	assert.True(t, a.similar(b))

	c := a
	c.Indexes = []IndexSchema{{Name: "byEmail", KeyPath: "email", Type: KeyTypeString, Unique: false}}
	assert.False(t, a.similar(c), "unique flag differs")
}

func TestIndexEffectiveTypeTupleOverride(t *testing.T) {
	ix := IndexSchema{Name: "composite", KeyPath: []string{"a", "b"}, Type: KeyTypeString}
	assert.Equal(t, KeyTypeTuple, ix.effectiveType(), "multi-segment key path always implies a tuple key")
}

func TestDatabaseSchemaSimilarIgnoresOrder(t *testing.T) {
	a := NewDatabaseSchema(1)
	_ = a.addStore(StoreSchema{Name: "one", KeyPath: "id"})
	_ = a.addStore(StoreSchema{Name: "two", KeyPath: "id"})

	b := NewDatabaseSchema(1)
	_ = b.addStore(StoreSchema{Name: "two", KeyPath: "id"})
	_ = b.addStore(StoreSchema{Name: "one", KeyPath: "id"})

	assert.True(t, a.similar(b))
}

func TestValidateColumnNameRejectsInjection(t *testing.T) {
	require.NoError(t, ValidateColumnName("user_id"))
	require.NoError(t, ValidateColumnName("COUNT(*)"))
	err := ValidateColumnName("id; DROP TABLE users")
	require.Error(t, err)
}
