package shimstore

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
)

// toColumn normalizes a schema field name (which may be written in Go
// convention, e.g. "UserID", when it originated from a From[T]-encoded
// struct) into the snake_case column name the SQL backend persists it
// under.
func toColumn(name string) string {
	return strcase.ToSnake(name)
}

// Dialect adapts the SQL backend to one of the three supported drivers:
// identifier quoting and placeholder rebinding for the query compiler,
// plus list-tables/describe-table introspection queries used for schema
// reconciliation.
type Dialect struct {
	Name             string
	DriverName       string
	QuoteChar        string // identifier quoting character, doubled to escape
	Placeholder      func(n int) string
	ConcatFn         string
	QueryListTables  string
	QueryTableSchema string // %s-formatted with the table name
}

func (d *Dialect) quoteIdent(name string) string {
	q := d.QuoteChar
	escaped := strings.ReplaceAll(name, q, q+q)
	return q + escaped + q
}

func (d *Dialect) concatFn() string {
	return d.ConcatFn
}

// rebind rewrites a statement built with "?" placeholders into this
// dialect's native placeholder style (PostgreSQL's $1, $2, ...; MySQL and
// SQLite already use "?" so rebind is a no-op for them).
func (d *Dialect) rebind(query string) string {
	if d.Placeholder == nil {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString(d.Placeholder(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func questionMark(int) string { return "?" }

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// columnSpec describes one column as reported by a dialect's schema
// introspection query, used by the SQL backend's connect to detect drift
// between the declared schema and the persisted table set.
type columnSpec struct {
	Name         string
	Type         string
	Nullable     bool
	DefaultValue sql.NullString
	IsPrimaryKey bool
}

func listTables(db *sql.DB, d *Dialect) ([]string, error) {
	rows, err := db.Query(d.QueryListTables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

func tableSchema(db *sql.DB, d *Dialect, table string) ([]columnSpec, error) {
	query := d.QueryTableSchema
	if strings.Contains(query, "%s") {
		query = fmt.Sprintf(query, table)
	}

	var rows *sql.Rows
	var err error
	if d.Name == "postgres" {
		rows, err = db.Query(query, table)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []columnSpec
	for rows.Next() {
		var (
			cs          columnSpec
			nullableStr string
			hasDefault  string
			pkStr       string
		)
		switch d.Name {
		case "mysql":
			// Field, Type, Null, Key, Default, Extra
			var key, extra string
			if err := rows.Scan(&cs.Name, &cs.Type, &nullableStr, &key, &cs.DefaultValue, &extra); err != nil {
				return nil, err
			}
			cs.Nullable = nullableStr == "YES"
			cs.IsPrimaryKey = key == "PRI"
		case "postgres":
			if err := rows.Scan(&cs.Name, &cs.Type, &nullableStr, &cs.DefaultValue, &pkStr); err != nil {
				return nil, err
			}
			cs.Nullable = nullableStr == "YES"
			cs.IsPrimaryKey = pkStr == "true" || pkStr == "t"
		default: // sqlite3
			var notNull, pk string
			if err := rows.Scan(&cs.Name, &cs.Type, &notNull, &cs.DefaultValue, &pk); err != nil {
				return nil, err
			}
			cs.Nullable = notNull == "0"
			cs.IsPrimaryKey = pk != "0"
		}
		_ = hasDefault
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Dialects holds the three ready-made Dialect values the SQL backend
// selects between based on a connection's driver name.
var Dialects = &struct {
	MySQL      *Dialect
	PostgreSQL *Dialect
	SQLite3    *Dialect
}{
	MySQL: &Dialect{
		Name:             "mysql",
		DriverName:       "mysql",
		QuoteChar:        "`",
		Placeholder:      questionMark,
		ConcatFn:         "CONCAT",
		QueryListTables:  "SHOW TABLES",
		QueryTableSchema: "DESCRIBE %s",
	},
	PostgreSQL: &Dialect{
		Name:             "postgres",
		DriverName:       "pgx",
		QuoteChar:        `"`,
		Placeholder:      dollarPlaceholder,
		ConcatFn:         "CONCAT",
		QueryListTables:  "SELECT tablename FROM pg_tables WHERE schemaname = 'public'",
		QueryTableSchema: "SELECT column_name, data_type, is_nullable, column_default::text, (column_name = (SELECT kcu.column_name FROM information_schema.table_constraints tc JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_name = $1 LIMIT 1))::text FROM information_schema.columns WHERE table_name = $1",
	},
	SQLite3: &Dialect{
		Name:             "sqlite3",
		DriverName:       "sqlite3",
		QuoteChar:        `"`,
		Placeholder:      questionMark,
		ConcatFn:         "CONCAT", // emitted as-is; the compiler does not rewrite it to sqlite's || operator
		QueryListTables:  "SELECT name FROM sqlite_schema WHERE type='table'",
		QueryTableSchema: `SELECT name,type,"notnull","dflt_value","pk" FROM PRAGMA_TABLE_INFO('%s')`,
	},
}

func dialectFor(driverName string) (*Dialect, error) {
	switch driverName {
	case "mysql":
		return Dialects.MySQL, nil
	case "postgres", "pgx":
		return Dialects.PostgreSQL, nil
	case "sqlite3":
		return Dialects.SQLite3, nil
	default:
		return nil, newErr(KindArgument, "dialectFor", fmt.Errorf("unsupported driver %q", driverName))
	}
}
