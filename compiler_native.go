package shimstore

import "fmt"

// nativePlan is what the query compiler produces for the native backend:
// an index (or primary-key) cursor descriptor plus any filters that could
// not be pushed into the index range and must be applied per-record
// during the scan.
type nativePlan struct {
	StoreName   string
	Index       string // "" selects the primary-key order
	Range       KeyRange
	PostFilters []Where // wheres on fields other than Index, applied after the index range
	Direction   Direction
	Map         MapFn
	Reduce      ReduceOp
	ReduceFn    ReduceFn
	Limit       int
	Offset      int
}

// compileNative lowers a Query IR value into a nativePlan. Index
// selection rule: use the named index if the query
// specifies one; otherwise use the first where-clause whose field names a
// declared index; any remaining where-clauses become post-range filters
// evaluated against each candidate record.
func compileNative(q Query, schema StoreSchema) (*nativePlan, error) {
	if err := q.validate(schema); err != nil {
		return nil, err
	}

	plan := &nativePlan{
		StoreName: q.StoreName,
		Direction: q.Direction,
		Map:       q.Map,
		Reduce:    q.Reduce,
		ReduceFn:  q.ReduceFn,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}

	chosenIdx := q.Index
	var chosenRange *KeyRange
	remaining := make([]Where, 0, len(q.Wheres))

	for _, w := range q.Wheres {
		if chosenIdx == "" {
			if _, ok := schema.index(w.Field); ok || w.Field == "" {
				chosenIdx = w.Field
				r := w.Range
				chosenRange = &r
				continue
			}
		}
		if w.Field == chosenIdx {
			r := w.Range
			chosenRange = &r
			continue
		}
		remaining = append(remaining, w)
	}

	plan.Index = chosenIdx
	if chosenRange != nil {
		plan.Range = *chosenRange
	}
	plan.PostFilters = remaining

	return plan, nil
}

// finalizeReduce applies the compiled ReduceOp's incremental fold over a
// stream of records, using the incremental-mean formula for AVG:
// ((prev*i)+x)/(i+1), so the running average never needs to revisit
// earlier records.
func finalizeReduce(op ReduceOp, fn ReduceFn, field string, records []map[string]any) (any, error) {
	if fn != nil {
		var acc any
		for i, r := range records {
			acc = fn(acc, r, i)
		}
		return acc, nil
	}

	switch op {
	case ReduceNone:
		return nil, nil
	case ReduceCount:
		return len(records), nil
	case ReduceSum, ReduceAvg, ReduceMin, ReduceMax:
		return reduceNumeric(op, field, records)
	default:
		return nil, newErr(KindNotImplemented, "reduce", fmt.Errorf("unsupported reduce op"))
	}
}

func reduceNumeric(op ReduceOp, field string, records []map[string]any) (any, error) {
	var sum float64
	var mean float64
	var min, max float64
	started := false
	count := 0

	for _, r := range records {
		v, ok := r[field]
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, newErr(KindArgument, "reduce", fmt.Errorf("field %q is not numeric", field))
		}
		sum += f
		if !started {
			min, max = f, f
			started = true
		} else {
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
		}
		mean = ((mean * float64(count)) + f) / float64(count+1)
		count++
	}

	switch op {
	case ReduceSum:
		return sum, nil
	case ReduceAvg:
		return mean, nil
	case ReduceMin:
		return min, nil
	case ReduceMax:
		return max, nil
	default:
		return nil, nil
	}
}
