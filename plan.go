package docdb

import "go.mongodb.org/mongo-driver/v2/bson"

// plan is the physical operator tree the planner (planner.go) compiles a
// Statement into (spec.md §4.5). Nodes are strict trees built bottom-up;
// no back-references (spec.md §9).
type plan interface {
	open(tx *Tx) (rowIter, error)
}

type logicalOp int

const (
	logicalAnd logicalOp = iota
	logicalOr
)

type rangeKind int

const (
	rangeFull rangeKind = iota
	rangeEq
	rangeBounded
)

type indexRange struct {
	Kind     rangeKind
	Eq       bson.RawValue
	Lower    bson.RawValue
	Upper    bson.RawValue
	HasLower bool
	HasUpper bool
	LowerInc bool
	UpperInc bool
}

type planScan struct {
	Collection string
	Limit      int
	HasLimit   bool
}

type planIndexScan struct {
	Collection     string
	Field          string
	Range          indexRange
	Reverse        bool
	Limit          int
	HasLimit       bool
	CompleteGroups bool
}

type planIndexMerge struct {
	Logical logicalOp
	LHS     plan
	RHS     plan
}

type planKeyLookup struct {
	Collection string
	Source     plan
}

type planFilter struct {
	Pred   Expr
	Source plan
}

type planProjection struct {
	Columns    []string
	HasColumns bool
	Source     plan
}

type planSort struct {
	Sorts  []SortKey
	Source plan
}

type planLimit struct {
	Skip     int
	Take     int
	HasTake  bool
	Source   plan
}

type planDistinct struct {
	Field  string
	Take   int
	HasTake bool
	Source plan
}

type planValues struct {
	Docs []bson.D
}

type planInsert struct {
	Collection string
	Docs       []bson.D
}

type planUpdate struct {
	Collection string
	Mutation   *Mutation
	Source     plan
}

type planReplace struct {
	Collection  string
	Replacement bson.D
	Source      plan
}

type planDelete struct {
	Collection string
	Source     plan
}

type planUpsertReplace struct {
	Collection  string
	Filter      Expr
	Replacement bson.D
}

type planUpsertMerge struct {
	Collection string
	Filter     Expr
	Merge      bson.D
}

type planFlushExpired struct {
	Collection string
	NowMillis  int64
	BatchLimit int
}
