package shimstore

import (
	"fmt"
	"strings"
)

// sqlPut upserts record at key into storeSchema's table. No dialect's
// native upsert syntax is used: a replace is a delete-then-insert pair
// inside the caller's transaction, which is safe because it runs inside
// the same *sql.Tx as every other statement in this transaction.
func sqlPut(tx *Tx, schema StoreSchema, record map[string]any, key any, allowReplace bool) error {
	d := tx.dialect
	keyCol := primaryKeyColumn(schema)

	cols := []string{keyCol}
	vals := []any{key}
	seen := map[string]bool{keyCol: true}
	for _, ix := range schema.Indexes {
		parts := ix.keyPathParts()
		if len(parts) != 1 {
			continue
		}
		col := toColumn(parts[0])
		if seen[col] {
			continue
		}
		if v, ok := record[parts[0]]; ok {
			cols = append(cols, col)
			vals = append(vals, v)
			seen[col] = true
		}
	}

	if allowReplace {
		existing, err := sqlGet(tx, schema, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if _, err := sqlRemove(tx, schema, key); err != nil {
				return err
			}
		}
	} else {
		existing, err := sqlGet(tx, schema, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return newErr(KindConstraint, "add", fmt.Errorf("key already exists in store %q", schema.Name))
		}
	}

	quotedCols := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = d.quoteIdent(c)
		placeholders[i] = "?"
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quoteIdent(schema.Name), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	stmt = d.rebind(stmt)

	_, err := tx.sqlTx.ExecContext(tx.ctx, stmt, vals...)
	if err != nil {
		return WrapBackendError("put", stmt, vals, err)
	}
	return nil
}

func sqlGet(tx *Tx, schema StoreSchema, key any) (map[string]any, error) {
	d := tx.dialect
	keyCol := primaryKeyColumn(schema)
	stmt := d.rebind(fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", d.quoteIdent(schema.Name), d.quoteIdent(keyCol)))

	rows, err := tx.sqlTx.QueryContext(tx.ctx, stmt, key)
	if err != nil {
		return nil, WrapBackendError("get", stmt, []any{key}, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, WrapBackendError("get", stmt, []any{key}, err)
	}

	if !rows.Next() {
		return nil, rows.Err()
	}

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, WrapBackendError("get", stmt, []any{key}, err)
	}

	record := make(map[string]any, len(cols))
	for i, c := range cols {
		record[c] = dest[i]
	}
	return record, nil
}

func sqlRemove(tx *Tx, schema StoreSchema, key any) (bool, error) {
	d := tx.dialect
	keyCol := primaryKeyColumn(schema)
	stmt := d.rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.quoteIdent(schema.Name), d.quoteIdent(keyCol)))

	res, err := tx.sqlTx.ExecContext(tx.ctx, stmt, key)
	if err != nil {
		return false, WrapBackendError("remove", stmt, []any{key}, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, WrapBackendError("remove", stmt, []any{key}, err)
	}
	return n > 0, nil
}

func sqlClear(tx *Tx, schema StoreSchema) (int, error) {
	d := tx.dialect
	stmt := fmt.Sprintf("DELETE FROM %s", d.quoteIdent(schema.Name))

	res, err := tx.sqlTx.ExecContext(tx.ctx, stmt)
	if err != nil {
		return 0, WrapBackendError("clear", stmt, nil, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, WrapBackendError("clear", stmt, nil, err)
	}
	return int(n), nil
}
