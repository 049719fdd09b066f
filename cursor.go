package shimstore

import "fmt"

// cursorState names the three states of the relational cursor's
// lifecycle: pending before its first position is established, active
// while it sits over a row, exhausted once the underlying result set is
// spent.
type cursorState int

const (
	cursorPending cursorState = iota
	cursorActive
	cursorExhausted
)

// Cursor is a positioned, seekable iterator over a materialized SQL
// result set. It is always owned by exactly one transaction and must not
// outlive it; every method returns InvalidStateError once the owning
// transaction has completed. update/clear/restart reach back into the
// owning transaction's *sql.Tx (via schema/query/sb) to actually mutate
// or re-query storage rather than only touching the cached rows.
type Cursor struct {
	rows      []map[string]any
	schema    StoreSchema
	query     Query
	keyCol    string
	indexCol  string // "" when scanning by primary key
	direction Direction

	pos   int
	state cursorState
	owner *Tx
	sb    *SQLBackend
}

// newCursor materializes rows (already ordered by the compiler's ORDER BY
// clause) into a Cursor positioned before the first row. sb and query are
// kept so restart can re-issue a tightened statement against the same
// backend and owning transaction.
func newCursor(rows []map[string]any, schema StoreSchema, q Query, keyCol, indexCol string, dir Direction, owner *Tx, sb *SQLBackend) *Cursor {
	c := &Cursor{
		rows:      rows,
		schema:    schema,
		query:     q,
		keyCol:    keyCol,
		indexCol:  indexCol,
		direction: dir,
		pos:       -1,
		state:     cursorPending,
		owner:     owner,
		sb:        sb,
	}
	return c
}

func (c *Cursor) checkOwner() error {
	if c.owner != nil && c.owner.done {
		return newErr(KindInvalidState, "cursor", fmt.Errorf("cursor used outside its owning transaction"))
	}
	return nil
}

// hasCursor reports whether the cursor currently sits over a row.
func (c *Cursor) hasCursor() bool {
	return c.state == cursorActive
}

// start positions the cursor at its first row, if any. Called once by the
// scan operation that created it; calling it again is a no-op once the
// cursor has left the pending state.
func (c *Cursor) start() error {
	if err := c.checkOwner(); err != nil {
		return err
	}
	if c.state != cursorPending {
		return nil
	}
	if len(c.rows) == 0 {
		c.state = cursorExhausted
		return nil
	}
	c.pos = 0
	c.state = cursorActive
	return nil
}

func (c *Cursor) currentRow() map[string]any {
	if c.state != cursorActive {
		return nil
	}
	return c.rows[c.pos]
}

// getPrimaryKey returns the primary key of the row the cursor currently
// sits over. InvalidOperationError if the cursor is not positioned over a
// row; callers must check hasCursor first.
func (c *Cursor) getPrimaryKey() (any, error) {
	if err := c.checkOwner(); err != nil {
		return nil, err
	}
	if !c.hasCursor() {
		return nil, newErr(KindInvalidOperation, "cursor.getPrimaryKey", fmt.Errorf("cursor is not positioned over a row"))
	}
	return c.currentRow()[c.keyCol], nil
}

// getIndexKey returns the value of the index field the cursor is ordered
// by, or the primary key when the cursor is not scanning an index.
func (c *Cursor) getIndexKey() (any, error) {
	if err := c.checkOwner(); err != nil {
		return nil, err
	}
	if !c.hasCursor() {
		return nil, newErr(KindInvalidOperation, "cursor.getIndexKey", fmt.Errorf("cursor is not positioned over a row"))
	}
	col := c.indexCol
	if col == "" {
		col = c.keyCol
	}
	return c.currentRow()[col], nil
}

// getValue returns the full record the cursor currently sits over.
func (c *Cursor) getValue() (map[string]any, error) {
	if err := c.checkOwner(); err != nil {
		return nil, err
	}
	if !c.hasCursor() {
		return nil, newErr(KindInvalidOperation, "cursor.getValue", fmt.Errorf("cursor is not positioned over a row"))
	}
	return c.currentRow(), nil
}

// advance moves the cursor forward n positions in its scan order. n must
// be >= 1; advance(0) or a negative n is an ArgumentException rather than
// a silent no-op.
func (c *Cursor) advance(n int) error {
	if err := c.checkOwner(); err != nil {
		return err
	}
	if n < 1 {
		return argErr("cursor.advance", "advance requires n >= 1")
	}
	if c.state == cursorExhausted {
		return newErr(KindInvalidState, "cursor.advance", fmt.Errorf("cursor is exhausted"))
	}
	if c.state == cursorPending {
		return newErr(KindInvalidOperation, "cursor.advance", fmt.Errorf("cursor has not been started"))
	}

	c.pos += n
	if c.pos >= len(c.rows) {
		c.pos = len(c.rows)
		c.state = cursorExhausted
		return nil
	}
	return nil
}

// continueEffectiveKey advances the cursor to the first row whose index
// key is >= key (for ascending directions) or <= key (for descending),
// skipping rows in between without materializing them individually to
// the caller. Moving in the wrong direction (key behind the cursor's
// current position) is a fatal InvalidOperationError rather than a
// silent no-op.
func (c *Cursor) continueEffectiveKey(key any) error {
	if err := c.checkOwner(); err != nil {
		return err
	}
	if c.state == cursorPending {
		return newErr(KindInvalidOperation, "cursor.continueEffectiveKey", fmt.Errorf("cursor has not been started"))
	}
	if c.state == cursorExhausted {
		return nil
	}

	col := c.indexCol
	if col == "" {
		col = c.keyCol
	}

	desc := c.direction.descending()
	current := c.rows[c.pos][col]
	rel := cmp(key, current)
	if (!desc && rel < 0) || (desc && rel > 0) {
		return newErr(KindInvalidOperation, "cursor.continueEffectiveKey",
			fmt.Errorf("key is behind the cursor's current position"))
	}

	for i := c.pos; i < len(c.rows); i++ {
		k := c.rows[i][col]
		rel := cmp(k, key)
		if (!desc && rel >= 0) || (desc && rel <= 0) {
			c.advanceTo(i)
			return nil
		}
	}
	c.pos = len(c.rows)
	c.state = cursorExhausted
	return nil
}

func (c *Cursor) advanceTo(i int) {
	c.pos = i
	if i >= len(c.rows) {
		c.state = cursorExhausted
	} else {
		c.state = cursorActive
	}
}

// continuePrimaryKey advances to the row matching (indexKey, primaryKey)
// without moving past the boundary of the index-key equivalence class the
// cursor started this call in: if no row in the current equivalence class
// matches primaryKey, the cursor stops at the boundary rather than
// continuing into the next index-key group.
func (c *Cursor) continuePrimaryKey(indexKey, primaryKey any) error {
	if err := c.checkOwner(); err != nil {
		return err
	}
	if c.state == cursorPending {
		return newErr(KindInvalidOperation, "cursor.continuePrimaryKey", fmt.Errorf("cursor has not been started"))
	}
	if c.state == cursorExhausted {
		return nil
	}
	if c.indexCol == "" {
		return newErr(KindInvalidOperation, "cursor.continuePrimaryKey", fmt.Errorf("continuePrimaryKey requires an index cursor"))
	}

	startKey := c.rows[c.pos][c.indexCol]

	for i := c.pos; i < len(c.rows); i++ {
		row := c.rows[i]
		k := row[c.indexCol]
		if cmp(k, startKey) != 0 && cmp(k, indexKey) != 0 {
			// left the equivalence class this call started in without a match
			c.advanceTo(i)
			return nil
		}
		if cmp(k, indexKey) == 0 && cmp(row[c.keyCol], primaryKey) == 0 {
			c.advanceTo(i)
			return nil
		}
	}
	c.pos = len(c.rows)
	c.state = cursorExhausted
	return nil
}

// update rewrites the record at the cursor's current primary key via an
// upsert issued against the owning transaction's *sql.Tx, and returns
// that primary key. The cursor's cached row is refreshed too, so a
// subsequent getValue within the same transaction sees the new contents
// without a round trip. The cursor remains active after success.
func (c *Cursor) update(record map[string]any) (any, error) {
	if err := c.checkOwner(); err != nil {
		return nil, err
	}
	if !c.hasCursor() {
		return nil, newErr(KindInvalidOperation, "cursor.update", fmt.Errorf("cursor is not positioned over a row"))
	}
	if c.owner == nil || c.owner.sqlTx == nil {
		return nil, newErr(KindInvalidOperation, "cursor.update", fmt.Errorf("update requires a live SQL transaction"))
	}
	pk := c.rows[c.pos][c.keyCol]
	record[c.keyCol] = pk
	if err := sqlPut(c.owner, c.schema, record, pk, true); err != nil {
		return nil, err
	}
	c.rows[c.pos] = record
	return pk, nil
}

// clear deletes the record at the cursor's current primary key via the
// owning transaction's *sql.Tx and returns the number of rows affected (0
// or 1). The cursor remains active over the same position afterward; it
// does not advance on its own.
func (c *Cursor) clear() (int, error) {
	if err := c.checkOwner(); err != nil {
		return 0, err
	}
	if !c.hasCursor() {
		return 0, newErr(KindInvalidOperation, "cursor.clear", fmt.Errorf("cursor is not positioned over a row"))
	}
	if c.owner == nil || c.owner.sqlTx == nil {
		return 0, newErr(KindInvalidOperation, "cursor.clear", fmt.Errorf("clear requires a live SQL transaction"))
	}
	pk := c.rows[c.pos][c.keyCol]
	removed, err := sqlRemove(c.owner, c.schema, pk)
	if err != nil {
		return 0, err
	}
	if !removed {
		return 0, nil
	}
	return 1, nil
}

// restart tightens the cursor's scan-order bound to effectiveKey,
// re-issues the statement against the owning transaction, re-materializes
// the result set, and then skips forward past every row whose primary key
// is still strictly before primaryKey in the cursor's direction (or
// equal to it too, when exclusive is set), landing on the first row at or
// past the resume point. Returns to pending only transiently; the state
// after success is active or exhausted, per the state diagram.
func (c *Cursor) restart(effectiveKey, primaryKey any, exclusive bool) error {
	if err := c.checkOwner(); err != nil {
		return err
	}
	if c.owner == nil || c.owner.sqlTx == nil || c.sb == nil {
		return newErr(KindInvalidOperation, "cursor.restart", fmt.Errorf("restart requires a live SQL transaction"))
	}

	c.state = cursorPending
	q := c.resumeQuery(effectiveKey)
	rows, err := c.sb.runQuery(c.owner, c.schema, q)
	if err != nil {
		return err
	}
	c.rows = rows
	c.query = q

	desc := c.direction.descending()
	pos := 0
	for pos < len(rows) {
		rel := cmp(rows[pos][c.keyCol], primaryKey)
		before := (desc && rel > 0) || (!desc && rel < 0)
		if before || (rel == 0 && exclusive) {
			pos++
			continue
		}
		break
	}
	c.advanceTo(pos)
	return nil
}

// resumeQuery rebuilds the cursor's original query with its scan-order
// bound tightened to effectiveKey, replacing any existing where clause on
// the same field rather than appending a second one (the query IR allows
// at most one where per field).
func (c *Cursor) resumeQuery(effectiveKey any) Query {
	field := c.query.Index
	wheres := make([]Where, 0, len(c.query.Wheres)+1)
	var rng KeyRange
	for _, w := range c.query.Wheres {
		if w.Field == field {
			rng = w.Range
			continue
		}
		wheres = append(wheres, w)
	}
	if c.direction.descending() {
		rng.Upper = &Bound{Value: effectiveKey}
	} else {
		rng.Lower = &Bound{Value: effectiveKey}
	}

	q := c.query
	q.Wheres = append(wheres, Where{Field: field, Range: rng})
	return q
}
