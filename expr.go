package docdb

import (
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Expr is the internal filter IR (spec.md §4.4), built from the wire-level
// Filter/FilterGroup shape (wire.go's exprFromFilterGroup) or constructed
// directly; this package has no parser for raw BSON filter documents. Matching walks
// the dotted field path, treating each array level as an existential
// quantifier (path.go's walkPath).
type Expr interface {
	match(doc bson.Raw) bool
	// indexable reports the field path and comparison this node applies,
	// for the planner's index-scan rewrite (spec.md §4.5 rule 1); ok is
	// false for nodes that cannot be answered by a single index scan.
	indexable() (field string, cmp indexCmp, value bson.RawValue, ok bool)
}

type indexCmp int

const (
	cmpEq indexCmp = iota
	cmpGt
	cmpGte
	cmpLt
	cmpLte
)

type exprAnd struct{ children []Expr }
type exprOr struct{ children []Expr }

func (e *exprAnd) match(doc bson.Raw) bool {
	for _, c := range e.children {
		if !c.match(doc) {
			return false
		}
	}
	return true
}
func (e *exprAnd) indexable() (string, indexCmp, bson.RawValue, bool) { return "", 0, bson.RawValue{}, false }

func (e *exprOr) match(doc bson.Raw) bool {
	for _, c := range e.children {
		if c.match(doc) {
			return true
		}
	}
	return false
}
func (e *exprOr) indexable() (string, indexCmp, bson.RawValue, bool) { return "", 0, bson.RawValue{}, false }

// exprCompare covers Eq/Gt/Gte/Lt/Lte: match is true if any value reached
// by walking Field satisfies Cmp against Value (spec.md §4.4's Eq matches
// exact type + value; ordering comparisons use compareRawValue's
// cross-type rules).
type exprCompare struct {
	Field string
	Cmp   indexCmp
	Value bson.RawValue
}

func (e *exprCompare) match(doc bson.Raw) bool {
	for _, rv := range walkPath(doc, e.Field) {
		if matchCompare(e.Cmp, rv, e.Value) {
			return true
		}
	}
	return false
}

func matchCompare(cmp indexCmp, rv, value bson.RawValue) bool {
	if cmp == cmpEq {
		return rv.Type == value.Type && bytesEqual(rv.Value, value.Value)
	}
	c := compareRawValue(rv, value)
	switch cmp {
	case cmpGt:
		return c > 0
	case cmpGte:
		return c >= 0
	case cmpLt:
		return c < 0
	case cmpLte:
		return c <= 0
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (e *exprCompare) indexable() (string, indexCmp, bson.RawValue, bool) {
	return e.Field, e.Cmp, e.Value, true
}

// exprRegex matches string values at Field against a precompiled pattern
// (spec.md §4.4: "Regex compiles once at parse time").
type exprRegex struct {
	Field string
	Re    *regexp.Regexp
}

func (e *exprRegex) match(doc bson.Raw) bool {
	for _, rv := range walkPath(doc, e.Field) {
		if rv.Type != bson.TypeString {
			continue
		}
		s, ok := rv.StringValueOK()
		if ok && e.Re.MatchString(s) {
			return true
		}
	}
	return false
}
func (e *exprRegex) indexable() (string, indexCmp, bson.RawValue, bool) { return "", 0, bson.RawValue{}, false }

// exprExists implements spec.md §4.4's Exists(bool): missing field +
// Exists(false) is true; null + Exists(true) is also true (null is a
// present value).
type exprExists struct {
	Field string
	Want  bool
}

func (e *exprExists) match(doc bson.Raw) bool {
	_, found := lookupPath(doc, e.Field)
	return found == e.Want
}
func (e *exprExists) indexable() (string, indexCmp, bson.RawValue, bool) { return "", 0, bson.RawValue{}, false }

func newAnd(children ...Expr) Expr {
	if len(children) == 1 {
		return children[0]
	}
	return &exprAnd{children: children}
}

func newOr(children ...Expr) Expr {
	if len(children) == 1 {
		return children[0]
	}
	return &exprOr{children: children}
}
