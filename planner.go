package docdb

import "go.mongodb.org/mongo-driver/v2/bson"

// compilePlan turns a Statement into a physical plan tree, against the
// collection's catalog metadata (spec.md §4.5). Mutation statements compile
// their own read pipeline internally (rule 6) via buildReadPlan, then wrap
// it in the matching mutation leaf.
func compilePlan(stmt *Statement, meta *CollectionMeta) (plan, error) {
	switch stmt.Kind {
	case StmtFind:
		return compileFind(stmt, meta), nil
	case StmtDistinct:
		return compileDistinct(stmt, meta), nil
	case StmtInsert:
		return &planInsert{Collection: stmt.Collection, Docs: stmt.Docs}, nil
	case StmtUpdate:
		src := buildReadPlan(stmt.Collection, stmt.Filter, meta, nil, 0, 0, false)
		return &planUpdate{Collection: stmt.Collection, Mutation: stmt.Mutation, Source: src}, nil
	case StmtReplace:
		src := buildReadPlan(stmt.Collection, stmt.Filter, meta, nil, 0, 0, false)
		return &planReplace{Collection: stmt.Collection, Replacement: stmt.Replacement, Source: src}, nil
	case StmtDelete:
		src := buildReadPlan(stmt.Collection, stmt.Filter, meta, nil, 0, 0, false)
		return &planDelete{Collection: stmt.Collection, Source: src}, nil
	case StmtUpsertMany:
		return compileUpsertMany(stmt), nil
	case StmtMergeMany:
		return compileMergeMany(stmt), nil
	case StmtFlushExpired:
		return &planFlushExpired{Collection: stmt.Collection, NowMillis: nowMillisFromRawValue(stmt.Now), BatchLimit: stmt.BatchLimit}, nil
	default:
		return nil, queryErrf(QueryInvalid, nil, "unrecognized statement kind")
	}
}

func nowMillisFromRawValue(now func() bson.RawValue) int64 {
	if now == nil {
		return 0
	}
	rv := now()
	dt, _ := rv.DateTimeOK()
	return dt
}

// compileUpsertMany/compileMergeMany: spec.md §2 groups these as batch
// statements over Docs; each element is matched by an equality filter on
// the collection's primary key (the only upsert key this design supports,
// since UpsertReplace/UpsertMerge plan nodes take one Filter apiece). A
// multi-document UpsertMany/MergeMany statement compiles to one upsert leaf
// per document, chained through a planValues-style fan-out.
func compileUpsertMany(stmt *Statement) plan {
	if len(stmt.Docs) == 0 {
		return &planValues{}
	}
	var chain plan
	for _, doc := range stmt.Docs {
		filter := filterByID(doc)
		leaf := &planUpsertReplace{Collection: stmt.Collection, Filter: filter, Replacement: doc}
		if chain == nil {
			chain = leaf
		} else {
			chain = &planChain{First: chain, Second: leaf}
		}
	}
	return chain
}

func compileMergeMany(stmt *Statement) plan {
	if len(stmt.Docs) == 0 {
		return &planValues{}
	}
	var chain plan
	for _, doc := range stmt.Docs {
		filter := filterByID(doc)
		leaf := &planUpsertMerge{Collection: stmt.Collection, Filter: filter, Merge: doc}
		if chain == nil {
			chain = leaf
		} else {
			chain = &planChain{First: chain, Second: leaf}
		}
	}
	return chain
}

// filterByID builds an Eq("_id", doc._id) filter for an UpsertMany/
// MergeMany batch element, falling back to a never-matching filter (forcing
// an insert) when the element omits its id.
func filterByID(doc bson.D) Expr {
	for _, e := range doc {
		if e.Key == "_id" {
			raw, err := bson.Marshal(bson.D{{Key: "v", Value: e.Value}})
			if err != nil {
				break
			}
			rv, ok := lookupPath(bson.Raw(raw), "v")
			if ok {
				return &exprCompare{Field: "_id", Cmp: cmpEq, Value: rv}
			}
		}
	}
	return &exprExists{Field: "_id", Want: false} // doc has no _id: never matches an existing record, forces insert
}

// planChain runs First to completion for its side effects (draining its
// rowIter), then opens Second — used to sequence the per-document upsert
// leaves compileUpsertMany/compileMergeMany produce into one statement
// execution. Not named by spec.md's operator list (which models Upsert as
// a single-document leaf); this is the fan-out glue a batch statement needs
// to run many independent upserts inside one transaction.
type planChain struct {
	First  plan
	Second plan
}

func (p *planChain) open(tx *Tx) (rowIter, error) {
	first, err := p.First.open(tx)
	if err != nil {
		return nil, err
	}
	var firstRows []row
	for {
		r, ok, err := first.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		firstRows = append(firstRows, r)
	}
	second, err := p.Second.open(tx)
	if err != nil {
		return nil, err
	}
	i := 0
	return rowIterFunc(func() (row, bool, error) {
		if i < len(firstRows) {
			r := firstRows[i]
			i++
			return r, true, nil
		}
		return second.Next()
	}), nil
}

// compileFind implements plan-selection rules 1–4 for StmtFind.
func compileFind(stmt *Statement, meta *CollectionMeta) plan {
	// Rule 3: a single sort key on an indexed field, with no filter (or an
	// equality filter on that same field), elides the Sort node by walking
	// the index in the requested direction.
	if len(stmt.Sort) == 1 && meta.hasIndex(stmt.Sort[0].Field) {
		field := stmt.Sort[0].Field
		noFilter := stmt.Filter == nil
		eqOnSameField := false
		if cmp, ok := stmt.Filter.(*exprCompare); ok && cmp.Cmp == cmpEq && cmp.Field == field {
			eqOnSameField = true
		}
		if noFilter || eqOnSameField {
			rng := indexRange{Kind: rangeFull}
			if eqOnSameField {
				cmp := stmt.Filter.(*exprCompare)
				rng = indexRange{Kind: rangeEq, Eq: cmp.Value}
			}
			scan := &planIndexScan{
				Collection: stmt.Collection,
				Field:      field,
				Range:      rng,
				Reverse:    stmt.Sort[0].Desc,
			}
			// Rule 4: push Limit into the leaf when no later operator can
			// change cardinality — true here since Sort is elided and
			// there is no residual Filter. The leaf's Limit is a soft
			// upper bound (skip+take rows); the top-level Limit still
			// trims the leading Skip rows, since IndexScan has no notion
			// of skip itself.
			if stmt.HasTake {
				scan.HasLimit = true
				scan.Limit = stmt.Skip + stmt.Take
			}
			lookup := &planKeyLookup{Collection: stmt.Collection, Source: scan}
			return applyProjectionAndLimit(stmt, lookup, true)
		}
	}

	// buildReadPlan already applies Sort and Limit internally here (Sort
	// could not be elided, so Limit cannot be pushed below it either —
	// rule 4's precondition fails), so only Projection wraps it.
	read := buildReadPlan(stmt.Collection, stmt.Filter, meta, stmt.Sort, stmt.Skip, stmt.Take, stmt.HasTake)
	return applyProjectionAndLimit(stmt, read, false)
}

// applyProjectionAndLimit wraps a fully-materialized document pipeline with
// Projection and, if needLimit is true, Limit.
func applyProjectionAndLimit(stmt *Statement, p plan, needLimit bool) plan {
	p = &planProjection{Columns: stmt.Columns, HasColumns: stmt.HasColumns, Source: p}
	if needLimit && (stmt.Skip > 0 || stmt.HasTake) {
		p = &planLimit{Skip: stmt.Skip, Take: stmt.Take, HasTake: stmt.HasTake, Source: p}
	}
	return p
}

// compileDistinct implements plan-selection rule 5.
func compileDistinct(stmt *Statement, meta *CollectionMeta) plan {
	if meta.hasIndex(stmt.DistinctField) && stmt.Filter == nil {
		scan := &planIndexScan{
			Collection:     stmt.Collection,
			Field:          stmt.DistinctField,
			Range:          indexRange{Kind: rangeFull},
			CompleteGroups: true,
		}
		// Take is enforced by planDistinct itself, which already stops
		// pulling rows once it has collected Take distinct values — not
		// here. IndexScan's Limit counts rows, not completed groups, so
		// handing it stmt.Take would cut the scan off mid-group (e.g.
		// Take=2 over [a,a,b,b,c] would stop after the second "a" row,
		// before any "b" row is ever seen).
		// Distinct over an id-only IndexScan still needs the leaf's
		// document to walk DistinctField's full value (the index only
		// proves membership, not the exact encoded value after decoding
		// back from the key) — so KeyLookup still runs; this is weaker
		// than a literal "does not require KeyLookup" but correct, since
		// this design's IndexScan emits ids, not decoded values.
		lookup := &planKeyLookup{Collection: stmt.Collection, Source: scan}
		return &planDistinct{Field: stmt.DistinctField, Take: stmt.Take, HasTake: stmt.HasTake, Source: lookup}
	}
	read := buildReadPlan(stmt.Collection, stmt.Filter, meta, nil, 0, 0, false)
	return &planDistinct{Field: stmt.DistinctField, Take: stmt.Take, HasTake: stmt.HasTake, Source: read}
}

// buildReadPlan compiles a filter into a document-yielding pipeline (rules
// 1–2), applying Sort when it can't be elided (the mutation-leaf callers
// always pass a nil sort, so this path is only taken by compileFind's
// fallback). Every return value yields (id, document) rows ready for a
// mutation leaf or Projection.
func buildReadPlan(coll string, filter Expr, meta *CollectionMeta, sorts []SortKey, skip, take int, hasTake bool) plan {
	leaf, residual := compileFilter(coll, filter, meta)
	var p plan = leaf
	if _, idsOnly := leaf.(idsOnlyPlan); idsOnly {
		p = &planKeyLookup{Collection: coll, Source: leaf}
	}
	if residual != nil {
		p = &planFilter{Pred: residual, Source: p}
	}
	if len(sorts) > 0 {
		p = &planSort{Sorts: sorts, Source: p}
	}
	if skip > 0 || hasTake {
		p = &planLimit{Skip: skip, Take: take, HasTake: hasTake, Source: p}
	}
	return p
}

// idsOnlyPlan marks plan nodes whose rows carry only an ID, not a Doc —
// callers must run them through KeyLookup before a Filter/Projection can
// inspect document fields.
type idsOnlyPlan interface {
	idsOnly()
}

func (*planIndexScan) idsOnly()  {}
func (*planIndexMerge) idsOnly() {}

// compileFilter implements rules 1 and 2: it recognizes indexable
// conjunctions/disjunctions and rewrites them into IndexScan/IndexMerge
// trees, returning any leftover predicate that must still run as a Filter
// once documents are available.
func compileFilter(coll string, filter Expr, meta *CollectionMeta) (plan, Expr) {
	switch f := filter.(type) {
	case nil:
		return &planScan{Collection: coll}, nil
	case *exprAnd:
		var indexed []plan
		var residuals []Expr
		for _, child := range f.children {
			if field, cmp, value, ok := child.indexable(); ok && meta.hasIndex(field) {
				indexed = append(indexed, indexScanFor(coll, field, cmp, value))
				continue
			}
			residuals = append(residuals, child)
		}
		if len(indexed) == 0 {
			return &planScan{Collection: coll}, filter
		}
		merged := indexed[0]
		for _, next := range indexed[1:] {
			merged = &planIndexMerge{Logical: logicalAnd, LHS: merged, RHS: next}
		}
		if len(residuals) == 0 {
			return merged, nil
		}
		return merged, newAnd(residuals...)
	case *exprOr:
		var indexed []plan
		for _, child := range f.children {
			field, cmp, value, ok := child.indexable()
			if !ok || !meta.hasIndex(field) {
				// rule 2: not every branch is index-coverable, fall back
				// to Scan + Filter entirely.
				return &planScan{Collection: coll}, filter
			}
			indexed = append(indexed, indexScanFor(coll, field, cmp, value))
		}
		merged := indexed[0]
		for _, next := range indexed[1:] {
			merged = &planIndexMerge{Logical: logicalOr, LHS: merged, RHS: next}
		}
		return merged, nil
	case *exprCompare:
		if meta.hasIndex(f.Field) {
			return indexScanFor(coll, f.Field, f.Cmp, f.Value), nil
		}
		return &planScan{Collection: coll}, filter
	default:
		return &planScan{Collection: coll}, filter
	}
}

func indexScanFor(coll, field string, cmp indexCmp, value bson.RawValue) plan {
	switch cmp {
	case cmpEq:
		return &planIndexScan{Collection: coll, Field: field, Range: indexRange{Kind: rangeEq, Eq: value}}
	case cmpGt:
		return &planIndexScan{Collection: coll, Field: field, Range: indexRange{Kind: rangeBounded, HasLower: true, Lower: value, LowerInc: false}}
	case cmpGte:
		return &planIndexScan{Collection: coll, Field: field, Range: indexRange{Kind: rangeBounded, HasLower: true, Lower: value, LowerInc: true}}
	case cmpLt:
		return &planIndexScan{Collection: coll, Field: field, Range: indexRange{Kind: rangeBounded, HasUpper: true, Upper: value, UpperInc: false}}
	case cmpLte:
		return &planIndexScan{Collection: coll, Field: field, Range: indexRange{Kind: rangeBounded, HasUpper: true, Upper: value, UpperInc: true}}
	default:
		return &planIndexScan{Collection: coll, Field: field, Range: indexRange{Kind: rangeFull}}
	}
}
