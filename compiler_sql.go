package shimstore

import (
	"fmt"
	"strings"
)

// sqlPlan is what the query compiler produces for the SQL backend: a
// complete statement plus any post-processing the relational cursor must
// still do after decoding each row (currently just the attached Map/Reduce
// stages, which the SQL backend runs the same way the native backend
// does, kept in the IR rather than pushed into SQL).
type sqlPlan struct {
	Statement string
	Args      []any
	Distinct  bool
	Map       MapFn
	Reduce    ReduceOp
	ReduceFn  ReduceFn
	ReduceCol string
}

// compileSQL lowers a Query IR value to a single SELECT statement for
// dialect d against schema. Ordering always follows the chosen index (or
// the primary key when Index is empty); DISTINCT is emitted for the two
// *Unique directions, and SQLBackend.runQuery then drops rows that repeat
// the previous row's index key, matching the native backend's
// effective-key deduplication. No reduce is pushed down into SQL: the
// statement always selects whole rows, and COUNT/SUM/AVG/MIN/MAX all run
// in the IR's own fold, the same one the native backend uses.
func compileSQL(q Query, schema StoreSchema, d *Dialect) (*sqlPlan, error) {
	if err := q.validate(schema); err != nil {
		return nil, err
	}

	keyCol := primaryKeyColumn(schema)
	orderCol := d.quoteIdent(keyCol)
	if q.Index != "" {
		orderCol = d.quoteIdent(fieldColumn(schema, q.Index))
	}

	proj := "*"
	pushedAggregate := ""
	if q.Reduce == ReduceMin || q.Reduce == ReduceMax {
		// MIN/MAX are not rewritten into SQL aggregates; like every other
		// reduce they stay client-side so both backends share one fold.
	}

	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT ")
	if q.Direction.unique() {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(proj)
	sb.WriteString(" FROM ")
	sb.WriteString(d.quoteIdent(schema.Name))

	var whereParts []string
	for _, w := range q.Wheres {
		col := d.quoteIdent(schema.Name) + "." + d.quoteIdent(fieldColumn(schema, w.Field))
		frag, fargs, err := w.Range.whereFragment(col)
		if err != nil {
			return nil, err
		}
		if frag == "" {
			continue
		}
		whereParts = append(whereParts, frag)
		args = append(args, fargs...)
	}
	if len(whereParts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereParts, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderCol)
	if q.Direction.descending() {
		sb.WriteString(" DESC")
	} else {
		sb.WriteString(" ASC")
	}

	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", q.Offset))
	}

	_ = pushedAggregate

	return &sqlPlan{
		Statement: d.rebind(sb.String()),
		Args:      args,
		Distinct:  q.Direction.unique(),
		Map:       q.Map,
		Reduce:    q.Reduce,
		ReduceFn:  q.ReduceFn,
	}, nil
}

// compileParsedSelect turns an already-parsed restricted-grammar SELECT
// (from parseSQL) into an executable statement for d, resolving the bare
// store/column names the grammar accepts into dialect-quoted identifiers.
func compileParsedSelect(sel *parsedSelect, schema StoreSchema, d *Dialect) (*sqlPlan, error) {
	if sel.Store != schema.Name {
		return nil, newErr(KindConstraint, "compileParsedSelect",
			fmt.Errorf("statement names store %q, expected %q", sel.Store, schema.Name))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")

	switch sel.Aggregate {
	case "":
		if len(sel.Columns) == 1 && sel.Columns[0] == "*" {
			sb.WriteString("*")
		} else {
			quoted := make([]string, len(sel.Columns))
			for i, c := range sel.Columns {
				if err := ValidateColumnName(c); err != nil {
					return nil, sqlParseErr(c, err.Error())
				}
				quoted[i] = d.quoteIdent(c)
			}
			sb.WriteString(strings.Join(quoted, ", "))
		}
	case "COUNT":
		sb.WriteString("COUNT(*)")
	case "CONCAT":
		args := make([]string, len(sel.Columns))
		for i, c := range sel.Columns {
			args[i] = d.quoteIdent(c)
		}
		sb.WriteString(fmt.Sprintf("%s(%s)", d.concatFn(), strings.Join(args, ", ")))
	default:
		if len(sel.Columns) != 1 {
			return nil, sqlParseErr(sel.Aggregate, fmt.Sprintf("%s takes exactly one column", sel.Aggregate))
		}
		sb.WriteString(fmt.Sprintf("%s(%s)", sel.Aggregate, d.quoteIdent(sel.Columns[0])))
	}

	sb.WriteString(" FROM ")
	sb.WriteString(d.quoteIdent(sel.Store))

	var args []any
	if len(sel.Wheres) > 0 {
		var parts []string
		for _, w := range sel.Wheres {
			if err := ValidateColumnName(w.Field); err != nil {
				return nil, sqlParseErr(w.Field, err.Error())
			}
			parts = append(parts, fmt.Sprintf("%s %s ?", d.quoteIdent(w.Field), w.Op))
			args = append(args, w.Value)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	if sel.OrderBy != "" {
		if err := ValidateColumnName(sel.OrderBy); err != nil {
			return nil, sqlParseErr(sel.OrderBy, err.Error())
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(d.quoteIdent(sel.OrderBy))
		if sel.Desc {
			sb.WriteString(" DESC")
		}
	}

	if sel.HasLimit {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", sel.Limit))
	}
	if sel.HasOffset {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", sel.Offset))
	}

	return &sqlPlan{
		Statement: d.rebind(sb.String()),
		Args:      args,
	}, nil
}

// finalizeTakeFirst collapses a single-row aggregate result set (COUNT,
// SUM, AVG, MIN, MAX, CONCAT) down to its one scalar value, matching how
// the restricted SQL grammar treats aggregate SELECTs as always producing
// exactly one row.
func finalizeTakeFirst(rows []map[string]any) (any, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	for _, v := range row {
		return v, nil
	}
	return nil, nil
}

func primaryKeyColumn(schema StoreSchema) string {
	parts := schema.keyPathParts()
	if len(parts) == 1 {
		return toColumn(parts[0])
	}
	return "id"
}

func fieldColumn(schema StoreSchema, field string) string {
	if field == "" {
		return primaryKeyColumn(schema)
	}
	if ix, ok := schema.index(field); ok {
		parts := ix.keyPathParts()
		if len(parts) == 1 {
			return toColumn(parts[0])
		}
	}
	return field
}
