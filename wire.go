package docdb

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// This file sketches the length-prefixed-TCP wire shapes that spec.md §6
// excludes from this module's scope (network/HTTP/CLI surfaces) but whose
// request/response and filter/sort shapes SPEC_FULL.md §11-12 asks to be
// carried as plain Go types, so a future network layer can be grafted on
// without redesigning the core. Grounded on
// original_source/crates/slate-server/src/protocol.rs (Request/Response)
// and original_source/crates/slate-query/src/{filter,operator,query,sort,
// value}.rs (the query wire shape). No transport code lives here — only
// the types, msgpack tags matching this package's existing wire
// convention (catalog.go), and exprFromFilterGroup, which
// is exercised: a Statement has to come from somewhere even without a
// running server.

// Operator is the wire-level comparison operator set (richer than the
// internal indexCmp: it adds case-insensitive string matching, which
// exprFromFilterGroup compiles down to exprRegex, and a null test, which it
// compiles to an exprCompare Eq against a BSON null).
type Operator int

const (
	OpEq Operator = iota
	OpIContains
	OpIStartsWith
	OpIEndsWith
	OpGt
	OpGte
	OpLt
	OpLte
	OpIsNull
)

// QueryValue is the wire-level scalar value carried by a Filter, decoded
// into a bson.RawValue by exprFromFilterGroup.
type QueryValue struct {
	Kind  QueryValueKind  `msgpack:"kind"`
	Str   string          `msgpack:"str,omitempty"`
	Int   int64           `msgpack:"int,omitempty"`
	Float float64         `msgpack:"float,omitempty"`
	Bool  bool            `msgpack:"bool,omitempty"`
	Date  int64           `msgpack:"date,omitempty"`
}

type QueryValueKind int

const (
	QVString QueryValueKind = iota
	QVInt
	QVFloat
	QVBool
	QVDate
	QVNull
)

// Filter is one leaf condition: field compared against value by operator.
type Filter struct {
	Field    string   `msgpack:"field"`
	Operator Operator `msgpack:"operator"`
	Value    QueryValue `msgpack:"value"`
}

// LogicalOp joins the children of a FilterGroup.
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
)

// FilterNode is either a leaf Filter or a nested FilterGroup. Exactly one
// of Condition/Group is set, matching the teacher's own sparse-struct
// idiom for representing what the wire source models as a tagged union
// (see statement.go's Statement, which sets this precedent).
type FilterNode struct {
	Condition *Filter      `msgpack:"cond,omitempty"`
	Group     *FilterGroup `msgpack:"group,omitempty"`
}

// FilterGroup is a logical grouping of FilterNodes — the wire shape
// exprFromFilterGroup compiles into this package's internal Expr tree.
type FilterGroup struct {
	Logical  LogicalOp    `msgpack:"logical"`
	Children []FilterNode `msgpack:"children"`
}

type SortDirection int

const (
	SortAsc SortDirection = iota
	SortDesc
)

type Sort struct {
	Field     string        `msgpack:"field"`
	Direction SortDirection `msgpack:"direction"`
}

// Query is the wire shape of a Find/FindOne request, compiled into a
// Statement by queryToStatement.
type Query struct {
	Filter  *FilterGroup `msgpack:"filter,omitempty"`
	Sort    []Sort       `msgpack:"sort,omitempty"`
	Skip    *int         `msgpack:"skip,omitempty"`
	Take    *int         `msgpack:"take,omitempty"`
	Columns []string     `msgpack:"columns,omitempty"`
}

// DistinctQuery is the wire shape of a Distinct request.
type DistinctQuery struct {
	Field  string         `msgpack:"field"`
	Filter *FilterGroup   `msgpack:"filter,omitempty"`
	Sort   *SortDirection `msgpack:"sort,omitempty"`
	Skip   *int           `msgpack:"skip,omitempty"`
	Take   *int           `msgpack:"take,omitempty"`
}

// CollectionConfig is the wire shape of a CreateCollection request,
// mirroring CollectionMeta's caller-supplied fields (catalog.go).
type CollectionConfig struct {
	Name    string   `msgpack:"name"`
	PKPath  string   `msgpack:"pk"`
	TTLPath string   `msgpack:"ttl,omitempty"`
	Indexes []string `msgpack:"idx,omitempty"`
}

// RequestKind enumerates the variants of slate-server's Request enum.
type RequestKind int

const (
	ReqInsertOne RequestKind = iota
	ReqInsertMany
	ReqFind
	ReqFindOne
	ReqFindByID
	ReqUpdateOne
	ReqUpdateMany
	ReqReplaceOne
	ReqDeleteOne
	ReqDeleteMany
	ReqCount
	ReqCreateIndex
	ReqDropIndex
	ReqListIndexes
	ReqCreateCollection
	ReqListCollections
	ReqDropCollection
	ReqDistinct
)

// Request is one client request over the wire. Only the fields relevant
// to Kind are populated, the same sparse-struct convention Statement uses
// internally.
type Request struct {
	Kind       RequestKind     `msgpack:"kind"`
	Collection string          `msgpack:"collection,omitempty"`
	Doc        bson.Raw        `msgpack:"doc,omitempty"`
	Docs       []bson.Raw      `msgpack:"docs,omitempty"`
	Query      *Query          `msgpack:"query,omitempty"`
	DistinctQ  *DistinctQuery  `msgpack:"distinct_query,omitempty"`
	ID         string          `msgpack:"id,omitempty"`
	Columns    []string        `msgpack:"columns,omitempty"`
	Filter     *FilterGroup    `msgpack:"filter,omitempty"`
	Update     bson.Raw        `msgpack:"update,omitempty"`
	Upsert     bool            `msgpack:"upsert,omitempty"`
	Field      string          `msgpack:"field,omitempty"`
	Config     *CollectionConfig `msgpack:"config,omitempty"`
}

// ResponseKind enumerates the variants of slate-server's Response enum.
type ResponseKind int

const (
	RespOk ResponseKind = iota
	RespInsert
	RespInserts
	RespRecord
	RespRecords
	RespUpdate
	RespDelete
	RespCount
	RespIndexes
	RespCollections
	RespValues
	RespError
)

// InsertResult/UpdateResult/DeleteResult mirror the teacher's
// slate-db::{InsertResult,UpdateResult,DeleteResult} return shapes.
type InsertResult struct {
	ID string `msgpack:"id"`
}

type UpdateResult struct {
	Matched  int `msgpack:"matched"`
	Modified int `msgpack:"modified"`
}

type DeleteResult struct {
	Deleted int `msgpack:"deleted"`
}

// Response is one server response over the wire.
type Response struct {
	Kind        ResponseKind   `msgpack:"kind"`
	Insert      *InsertResult  `msgpack:"insert,omitempty"`
	Inserts     []InsertResult `msgpack:"inserts,omitempty"`
	Record      bson.Raw       `msgpack:"record,omitempty"`
	Records     []bson.Raw     `msgpack:"records,omitempty"`
	Update      *UpdateResult  `msgpack:"update,omitempty"`
	Delete      *DeleteResult  `msgpack:"delete,omitempty"`
	Count       uint64         `msgpack:"count,omitempty"`
	Indexes     []string       `msgpack:"indexes,omitempty"`
	Collections []string       `msgpack:"collections,omitempty"`
	Values      bson.RawValue  `msgpack:"values,omitempty"`
	Error       string         `msgpack:"error,omitempty"`
}

// rawValueFromQueryValue converts the wire scalar into the internal
// bson.RawValue representation used throughout expr.go/compare.go.
func rawValueFromQueryValue(v QueryValue) bson.RawValue {
	switch v.Kind {
	case QVString:
		buf := make([]byte, 0, len(v.Str)+5)
		buf = appendCString(buf, v.Str)
		return bson.RawValue{Type: bson.TypeString, Value: buf}
	case QVInt:
		return rawValueOf(v.Int)
	case QVFloat:
		return rawValueOf(v.Float)
	case QVBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return bson.RawValue{Type: bson.TypeBoolean, Value: []byte{b}}
	case QVDate:
		return newDateTimeRawValue(v.Date)
	default:
		return bson.RawValue{Type: bson.TypeNull}
	}
}

// appendCString appends s as a length-prefixed BSON string (int32 length
// including the trailing NUL, followed by the bytes and the NUL), the
// encoding bson.RawValue.Value expects for TypeString.
func appendCString(buf []byte, s string) []byte {
	n := len(s) + 1
	lenBuf := make([]byte, 4)
	putLE32(lenBuf, uint32(n))
	buf = append(buf, lenBuf...)
	buf = append(buf, s...)
	buf = append(buf, 0)
	return buf
}

// exprFromFilterGroup compiles the wire-level FilterGroup into the
// internal Expr tree (expr.go), the one part of the wire layer actually
// exercised by this package: a Statement's Filter has to be built from
// something even without a running server attached.
func exprFromFilterGroup(g *FilterGroup) (Expr, error) {
	if g == nil {
		return nil, nil
	}
	children := make([]Expr, 0, len(g.Children))
	for _, n := range g.Children {
		e, err := exprFromFilterNode(n)
		if err != nil {
			return nil, err
		}
		children = append(children, e)
	}
	if len(children) == 0 {
		return nil, nil
	}
	switch g.Logical {
	case LogicalOr:
		return newOr(children...), nil
	default:
		return newAnd(children...), nil
	}
}

func exprFromFilterNode(n FilterNode) (Expr, error) {
	switch {
	case n.Condition != nil:
		return exprFromFilter(*n.Condition)
	case n.Group != nil:
		e, err := exprFromFilterGroup(n.Group)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return &exprAnd{}, nil
		}
		return e, nil
	default:
		return nil, fmt.Errorf("docdb: filter node has neither a condition nor a group")
	}
}

func exprFromFilter(f Filter) (Expr, error) {
	switch f.Operator {
	case OpEq:
		return &exprCompare{Field: f.Field, Cmp: cmpEq, Value: rawValueFromQueryValue(f.Value)}, nil
	case OpGt:
		return &exprCompare{Field: f.Field, Cmp: cmpGt, Value: rawValueFromQueryValue(f.Value)}, nil
	case OpGte:
		return &exprCompare{Field: f.Field, Cmp: cmpGte, Value: rawValueFromQueryValue(f.Value)}, nil
	case OpLt:
		return &exprCompare{Field: f.Field, Cmp: cmpLt, Value: rawValueFromQueryValue(f.Value)}, nil
	case OpLte:
		return &exprCompare{Field: f.Field, Cmp: cmpLte, Value: rawValueFromQueryValue(f.Value)}, nil
	case OpIsNull:
		return &exprCompare{Field: f.Field, Cmp: cmpEq, Value: bson.RawValue{Type: bson.TypeNull}}, nil
	case OpIContains, OpIStartsWith, OpIEndsWith:
		if f.Value.Kind != QVString {
			return nil, fmt.Errorf("docdb: %v requires a string value", f.Operator)
		}
		pattern := caseInsensitiveStringPattern(f.Operator, f.Value.Str)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("docdb: failed to compile filter pattern: %w", err)
		}
		return &exprRegex{Field: f.Field, Re: re}, nil
	default:
		return nil, fmt.Errorf("docdb: unrecognized filter operator %v", f.Operator)
	}
}

func caseInsensitiveStringPattern(op Operator, needle string) string {
	q := regexp.QuoteMeta(needle)
	switch op {
	case OpIStartsWith:
		return "(?i)^" + q
	case OpIEndsWith:
		return "(?i)" + q + "$"
	default:
		return "(?i)" + q
	}
}

// sortKeysFromWire converts the wire Sort slice into the internal SortKey
// slice the planner/executor consume (statement.go).
func sortKeysFromWire(sorts []Sort) []SortKey {
	if len(sorts) == 0 {
		return nil
	}
	out := make([]SortKey, len(sorts))
	for i, s := range sorts {
		out[i] = SortKey{Field: s.Field, Desc: s.Direction == SortDesc}
	}
	return out
}

// queryToStatement compiles a wire Query into a Find Statement.
func queryToStatement(coll string, q Query) (Statement, error) {
	filter, err := exprFromFilterGroup(q.Filter)
	if err != nil {
		return Statement{}, err
	}
	stmt := Statement{
		Kind:       StmtFind,
		Collection: coll,
		Filter:     filter,
		Sort:       sortKeysFromWire(q.Sort),
	}
	if q.Skip != nil {
		stmt.Skip = *q.Skip
	}
	if q.Take != nil {
		stmt.Take = *q.Take
		stmt.HasTake = true
	}
	if q.Columns != nil {
		stmt.Columns = q.Columns
		stmt.HasColumns = true
	}
	return stmt, nil
}

// distinctQueryToStatement compiles a wire DistinctQuery into a Distinct
// Statement.
func distinctQueryToStatement(coll string, q DistinctQuery) (Statement, error) {
	filter, err := exprFromFilterGroup(q.Filter)
	if err != nil {
		return Statement{}, err
	}
	stmt := Statement{
		Kind:          StmtDistinct,
		Collection:    coll,
		Filter:        filter,
		DistinctField: q.Field,
	}
	if q.Skip != nil {
		stmt.Skip = *q.Skip
	}
	if q.Take != nil {
		stmt.Take = *q.Take
		stmt.HasTake = true
	}
	if q.Sort != nil {
		stmt.Sort = []SortKey{{Field: q.Field, Desc: *q.Sort == SortDesc}}
	}
	return stmt, nil
}
