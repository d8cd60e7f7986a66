package docdb

import "go.mongodb.org/mongo-driver/v2/bson"

func (p *planFilter) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	pred := p.Pred
	return rowIterFunc(func() (row, bool, error) {
		for {
			r, ok, err := src.Next()
			if err != nil || !ok {
				return row{}, ok, err
			}
			if pred.match(r.Doc) {
				return r, true, nil
			}
		}
	}), nil
}

// Projection implements spec.md §4.5: pass-through when Columns is unset;
// otherwise emit only the named dotted paths plus `_id`, which is always
// retained regardless of whether it was requested (spec.md §8's
// projection invariant).
func (p *planProjection) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	if !p.HasColumns {
		return src, nil
	}
	cols := p.Columns
	return rowIterFunc(func() (row, bool, error) {
		r, ok, err := src.Next()
		if err != nil || !ok {
			return row{}, ok, err
		}
		out := bson.D{}
		if id, ok := lookupPath(r.Doc, "_id"); ok {
			out = append(out, bson.E{Key: "_id", Value: id})
		}
		for _, col := range cols {
			if col == "_id" {
				continue
			}
			if v, ok := lookupPath(r.Doc, col); ok {
				out = append(out, bson.E{Key: col, Value: v})
			}
		}
		raw, err := bson.Marshal(out)
		if err != nil {
			return row{}, false, engineErrf(EngineInvalidDocument, "", nil, err, "failed to marshal projected document")
		}
		return row{ID: r.ID, Doc: bson.Raw(raw)}, true, nil
	}), nil
}
