package docdb

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// TestCompileFindElidesSortOnIndexedField exercises plan-selection rule 3:
// a single sort key on an indexed field with no filter walks the index
// directly instead of materializing a Sort node.
func TestCompileFindElidesSortOnIndexedField(t *testing.T) {
	meta := &CollectionMeta{Name: "c", PKPath: "_id", Indexes: []string{"age"}}
	stmt := &Statement{Kind: StmtFind, Collection: "c", Sort: []SortKey{{Field: "age", Desc: true}}}
	p, err := compilePlan(stmt, meta)
	if err != nil {
		t.Fatalf("compilePlan: %v", err)
	}
	proj, ok := p.(*planProjection)
	if !ok {
		t.Fatalf("top-level plan = %T, wanted *planProjection", p)
	}
	lookup, ok := proj.Source.(*planKeyLookup)
	if !ok {
		t.Fatalf("planProjection.Source = %T, wanted *planKeyLookup (no Sort node)", proj.Source)
	}
	scan, ok := lookup.Source.(*planIndexScan)
	if !ok {
		t.Fatalf("planKeyLookup.Source = %T, wanted *planIndexScan", lookup.Source)
	}
	if !scan.Reverse {
		t.Errorf("planIndexScan.Reverse = false, wanted true for Desc sort")
	}
}

// TestCompileFindDoesNotElideSortOnUnindexedField checks the negative case:
// without an index on the sort field, a Sort node must appear.
func TestCompileFindDoesNotElideSortOnUnindexedField(t *testing.T) {
	meta := &CollectionMeta{Name: "c", PKPath: "_id"}
	stmt := &Statement{Kind: StmtFind, Collection: "c", Sort: []SortKey{{Field: "age"}}}
	p, err := compilePlan(stmt, meta)
	if err != nil {
		t.Fatalf("compilePlan: %v", err)
	}
	proj, ok := p.(*planProjection)
	if !ok {
		t.Fatalf("top-level plan = %T, wanted *planProjection", p)
	}
	if _, ok := proj.Source.(*planSort); !ok {
		t.Fatalf("planProjection.Source = %T, wanted *planSort", proj.Source)
	}
}

// TestCompileFindAndOfTwoIndexedFieldsMerges exercises rule 1: an AND of two
// indexed-field comparisons compiles to an IndexMerge, not a full Scan.
func TestCompileFindAndOfTwoIndexedFieldsMerges(t *testing.T) {
	meta := &CollectionMeta{Name: "c", PKPath: "_id", Indexes: []string{"a", "b"}}
	filter := newAnd(
		&exprCompare{Field: "a", Cmp: cmpEq, Value: int32RV(1)},
		&exprCompare{Field: "b", Cmp: cmpEq, Value: int32RV(2)},
	)
	leaf, residual := compileFilter("c", filter, meta)
	if residual != nil {
		t.Errorf("compileFilter residual = %v, wanted nil (both fields indexed)", residual)
	}
	if _, ok := leaf.(*planIndexMerge); !ok {
		t.Fatalf("compileFilter leaf = %T, wanted *planIndexMerge", leaf)
	}
}

// TestCompileFindFallsBackToScanWhenUnindexed checks rule 2's negative case:
// an OR where one branch isn't indexable falls back entirely to Scan+Filter.
func TestCompileFindFallsBackToScanWhenUnindexed(t *testing.T) {
	meta := &CollectionMeta{Name: "c", PKPath: "_id", Indexes: []string{"a"}}
	filter := newOr(
		&exprCompare{Field: "a", Cmp: cmpEq, Value: int32RV(1)},
		&exprCompare{Field: "b", Cmp: cmpEq, Value: int32RV(2)}, // not indexed
	)
	leaf, residual := compileFilter("c", filter, meta)
	if _, ok := leaf.(*planScan); !ok {
		t.Fatalf("compileFilter leaf = %T, wanted *planScan (fallback)", leaf)
	}
	if residual == nil {
		t.Errorf("compileFilter residual = nil, wanted the original filter for a full-scan fallback")
	}
}

func TestCompileDistinctUsesIndexScanWhenAvailable(t *testing.T) {
	meta := &CollectionMeta{Name: "c", PKPath: "_id", Indexes: []string{"city"}}
	stmt := &Statement{Kind: StmtDistinct, Collection: "c", DistinctField: "city"}
	p, err := compilePlan(stmt, meta)
	if err != nil {
		t.Fatalf("compilePlan: %v", err)
	}
	dist, ok := p.(*planDistinct)
	if !ok {
		t.Fatalf("top-level plan = %T, wanted *planDistinct", p)
	}
	lookup, ok := dist.Source.(*planKeyLookup)
	if !ok {
		t.Fatalf("planDistinct.Source = %T, wanted *planKeyLookup", dist.Source)
	}
	scan, ok := lookup.Source.(*planIndexScan)
	if !ok {
		t.Fatalf("planKeyLookup.Source = %T, wanted *planIndexScan", lookup.Source)
	}
	if !scan.CompleteGroups {
		t.Errorf("planIndexScan.CompleteGroups = false, wanted true for a distinct scan")
	}
}

func TestCompilePlanRejectsUnrecognizedKind(t *testing.T) {
	meta := &CollectionMeta{Name: "c", PKPath: "_id"}
	stmt := &Statement{Kind: StatementKind(999), Collection: "c"}
	if _, err := compilePlan(stmt, meta); err == nil {
		t.Errorf("compilePlan accepted an unrecognized statement kind")
	}
}

func TestFilterByIDFallsBackWhenIDMissing(t *testing.T) {
	e := filterByID(bson.D{{Key: "name", Value: "x"}})
	ex, ok := e.(*exprExists)
	if !ok || ex.Want {
		t.Fatalf("filterByID(no _id) = %#v, wanted exprExists{Want:false}", e)
	}
}
