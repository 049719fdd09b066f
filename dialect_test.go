package shimstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBConfigDSNMySQL(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 3306, User: "u", Password: "p", Database: "shimstore"}
	assert.Equal(t, "u:p@tcp(db:3306)/shimstore?parseTime=true", cfg.dsn("mysql"))
}

func TestDBConfigDSNPostgresDefaultsSSLMode(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "shimstore"}
	assert.Equal(t, "postgres://u:p@db:5432/shimstore?sslmode=disable", cfg.dsn("pgx"))
}

func TestDBConfigDSNPostgresHonorsSSLMode(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "shimstore", SSLMode: "require"}
	assert.Contains(t, cfg.dsn("pgx"), "sslmode=require")
}

func TestDialectForResolvesKnownDrivers(t *testing.T) {
	d, err := dialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, Dialects.SQLite3, d)

	d, err = dialectFor("pgx")
	require.NoError(t, err)
	assert.Equal(t, Dialects.PostgreSQL, d)
}

func TestDialectForRejectsUnknownDriver(t *testing.T) {
	_, err := dialectFor("oracle")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindArgument))
}

func TestToColumnSnakeCases(t *testing.T) {
	assert.Equal(t, "user_id", toColumn("UserID"))
	assert.Equal(t, "age", toColumn("age"))
}

func TestQuoteIdentEscapesQuoteChar(t *testing.T) {
	d := Dialects.PostgreSQL
	assert.Equal(t, `"weird""name"`, d.quoteIdent(`weird"name`))
}

func TestRebindRewritesPlaceholdersForPostgres(t *testing.T) {
	d := Dialects.PostgreSQL
	assert.Equal(t, "a = $1 AND b = $2", d.rebind("a = ? AND b = ?"))
}

func TestRebindIsNoopStyleForSQLite(t *testing.T) {
	d := Dialects.SQLite3
	assert.Equal(t, "a = ? AND b = ?", d.rebind("a = ? AND b = ?"))
}
