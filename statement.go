package docdb

import "go.mongodb.org/mongo-driver/v2/bson"

// Statement is the declarative input to the planner (spec.md §4.5): one of
// the nine variants named in spec.md §2. Only the fields relevant to Kind
// are populated; the zero value of the others is ignored.
type Statement struct {
	Kind       StatementKind
	Collection string

	Filter Expr
	Sort   []SortKey
	Skip   int
	Take   int
	HasTake bool

	Columns    []string
	HasColumns bool

	DistinctField string

	Docs        []bson.D // Insert, UpsertMany (replace bodies), MergeMany (merge bodies), Values
	Mutation    *Mutation
	Replacement bson.D

	Now func() bson.RawValue // FlushExpired's "now" cutoff, supplied by the caller via Cursor
	BatchLimit int           // FlushExpired's caller-supplied batch bound (spec.md §9)
}

type StatementKind int

const (
	StmtFind StatementKind = iota
	StmtDistinct
	StmtInsert
	StmtUpdate
	StmtReplace
	StmtDelete
	StmtUpsertMany
	StmtMergeMany
	StmtFlushExpired
)

type SortKey struct {
	Field string
	Desc  bool
}

// MutationOp is one field-level operation a structured Update statement
// may apply (SPEC_FULL.md §12's supplemented Mutation type, grounded on
// original_source/slate-query/src/lib.rs's FieldMutation/MutationOp
// re-export).
type MutationOp int

const (
	MutationSet MutationOp = iota
	MutationUnset
	MutationInc
	MutationPush
	MutationPull
)

type FieldMutation struct {
	Field string
	Op    MutationOp
	Value bson.RawValue
}

type Mutation struct {
	Fields []FieldMutation
}
