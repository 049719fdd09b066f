package shimstore

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DBConfig names the connection parameters for a relational backend,
// covering all three supported drivers.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // postgres only; defaults to "disable"
}

func (c DBConfig) dsn(driver string) string {
	switch driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Database)
	case "pgx":
		ssl := c.SSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Database, ssl)
	default:
		return c.Database
	}
}

// ConnectMySQL opens a MySQL connection and wraps it in a SQLBackend.
func ConnectMySQL(cfg DBConfig, stmtCacheSize int) (*SQLBackend, error) {
	db, err := sql.Open("mysql", cfg.dsn("mysql"))
	if err != nil {
		return nil, WrapBackendError("ConnectMySQL", "", nil, err)
	}
	return NewSQLBackend(db, "mysql", stmtCacheSize)
}

// ConnectPostgres opens a PostgreSQL connection via pgx's database/sql
// shim and wraps it in a SQLBackend.
func ConnectPostgres(cfg DBConfig, stmtCacheSize int) (*SQLBackend, error) {
	db, err := sql.Open("pgx", cfg.dsn("pgx"))
	if err != nil {
		return nil, WrapBackendError("ConnectPostgres", "", nil, err)
	}
	return NewSQLBackend(db, "postgres", stmtCacheSize)
}

// ConnectSQLite opens a SQLite database at path ("" or ":memory:" for an
// in-process database) and wraps it in a SQLBackend.
func ConnectSQLite(path string, stmtCacheSize int) (*SQLBackend, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, WrapBackendError("ConnectSQLite", "", nil, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	return NewSQLBackend(db, "sqlite3", stmtCacheSize)
}
