package docdb

import (
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Sort is a blocking operator: materializes the whole input, multi-key
// sorts with ties resolved by subsequent keys, then replays it (spec.md
// §4.6).
func (p *planSort) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	var rows []row
	for {
		r, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, r)
	}
	sorts := p.Sorts
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range sorts {
			a, aok := lookupPath(rows[i].Doc, key.Field)
			b, bok := lookupPath(rows[j].Doc, key.Field)
			var c int
			switch {
			case aok && bok:
				c = compareRawValue(a, b)
			case !aok && !bok:
				c = 0
			case !aok:
				c = -1
			default:
				c = 1
			}
			if key.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	i := 0
	return rowIterFunc(func() (row, bool, error) {
		if i >= len(rows) {
			return row{}, false, nil
		}
		r := rows[i]
		i++
		return r, true, nil
	}), nil
}

// Limit implements spec.md §4.5's skip/take, special-casing a single
// Distinct-produced array-value row by slicing inside the array instead of
// treating it as one of many rows.
func (p *planLimit) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	r, ok, err := src.Next()
	if err != nil {
		return nil, err
	}
	if ok && r.Array != nil {
		arr := r.Array
		lo := p.Skip
		if lo > len(arr) {
			lo = len(arr)
		}
		hi := len(arr)
		if p.HasTake && lo+p.Take < hi {
			hi = lo + p.Take
		}
		sliced := row{Array: append(bson.A(nil), arr[lo:hi]...)}
		emitted := false
		return rowIterFunc(func() (row, bool, error) {
			if emitted {
				return row{}, false, nil
			}
			emitted = true
			return sliced, true, nil
		}), nil
	}

	skipped := 0
	taken := 0
	first := true
	return rowIterFunc(func() (row, bool, error) {
		for {
			var cur row
			var curOK bool
			var curErr error
			if first {
				first = false
				cur, curOK, curErr = r, ok, nil
			} else {
				cur, curOK, curErr = src.Next()
			}
			if curErr != nil || !curOK {
				return row{}, curOK, curErr
			}
			if skipped < p.Skip {
				skipped++
				continue
			}
			if p.HasTake && taken >= p.Take {
				return row{}, false, nil
			}
			taken++
			return cur, true, nil
		}
	}), nil
}

// Distinct is blocking: walks Field across every input document, keeps a
// seen-set of encoded leaf values, and emits one pseudo-row carrying the
// deduplicated values as a BSON array (nulls excluded, per spec.md §4.5).
func (p *planDistinct) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var values bson.A
	for {
		r, ok, err := src.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		for _, rv := range walkPath(r.Doc, p.Field) {
			if rv.Type == bson.TypeNull {
				continue
			}
			key := string(byte(rv.Type)) + string(rv.Value)
			if seen[key] {
				continue
			}
			seen[key] = true
			values = append(values, rv)
			if p.HasTake && len(values) >= p.Take {
				break
			}
		}
		if p.HasTake && len(values) >= p.Take {
			break
		}
	}
	emitted := false
	return rowIterFunc(func() (row, bool, error) {
		if emitted {
			return row{}, false, nil
		}
		emitted = true
		return row{Array: values}, true, nil
	}), nil
}
