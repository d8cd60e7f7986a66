package docdb

import (
	"bytes"
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// compareRawValue implements spec.md §4.6's cross-type comparison used by
// filter Gt/Gte/Lt/Lte and by Sort: integers compare by value across
// int32/int64, exactly (no float round-trip, so two distinct int64s above
// 2^53 never collide); int vs. float compares by the float's value unless
// the float is NaN (NaN sorts greater than everything and equal only to
// itself); strings compare byte-wise; documents and arrays fall back to
// lexicographic comparison of their raw wire bytes, used only as a
// tiebreaker since compound values aren't otherwise ordered by this spec.
func compareRawValue(a, b bson.RawValue) int {
	if isIntType(a.Type) && isIntType(b.Type) {
		av, _ := asInt64(a)
		bv, _ := asInt64(b)
		return compareInt64(av, bv)
	}

	an, aIsNum := numericValue(a)
	bn, bIsNum := numericValue(b)
	if aIsNum && bIsNum {
		return compareFloat(an, bn)
	}

	if a.Type != b.Type {
		return rankOf(a.Type) - rankOf(b.Type)
	}

	switch a.Type {
	case bson.TypeString:
		as, _ := a.StringValueOK()
		bs, _ := b.StringValueOK()
		return bytes.Compare([]byte(as), []byte(bs))
	case bson.TypeBoolean:
		ab, _ := a.BooleanOK()
		bb, _ := b.BooleanOK()
		if ab == bb {
			return 0
		}
		if !ab {
			return -1
		}
		return 1
	case bson.TypeDateTime:
		av, _ := a.DateTimeOK()
		bv, _ := b.DateTimeOK()
		return compareInt64(av, bv)
	case bson.TypeObjectID:
		av, _ := a.ObjectIDOK()
		bv, _ := b.ObjectIDOK()
		return bytes.Compare(av[:], bv[:])
	case bson.TypeNull:
		return 0
	default:
		return bytes.Compare(a.Value, b.Value)
	}
}

func isIntType(t bson.Type) bool {
	return t == bson.TypeInt32 || t == bson.TypeInt64
}

// asInt64 widens int32/int64 without going through float64, so two
// distinct int64 values can't collide by rounding (numericValue's
// float64 conversion is fine for int-vs-float, but not for int-vs-int).
func asInt64(v bson.RawValue) (int64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		n, ok := v.Int32OK()
		return int64(n), ok
	case bson.TypeInt64:
		return v.Int64OK()
	default:
		return 0, false
	}
}

func numericValue(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		n, ok := v.Int32OK()
		return float64(n), ok
	case bson.TypeInt64:
		n, ok := v.Int64OK()
		return float64(n), ok
	case bson.TypeDouble:
		n, ok := v.DoubleOK()
		return n, ok
	default:
		return 0, false
	}
}

func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// rankOf orders BSON types for cross-type, non-numeric comparisons. This
// is an implementation-defined total order (the spec only constrains
// same-type and numeric cross-type comparison); it follows keycodec.go's
// typeRank, with int32, int64 and double sharing one rank here because
// they compare by value in memory, while the index gives each its own
// adjacent rank.
func rankOf(t bson.Type) int {
	switch t {
	case bson.TypeNull:
		return int(rankNull)
	case bson.TypeBoolean:
		return int(rankBool)
	case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble:
		return int(rankInt32)
	case bson.TypeString:
		return int(rankString)
	case bson.TypeDateTime:
		return int(rankDateTime)
	case bson.TypeBinary:
		return int(rankBinary)
	case bson.TypeObjectID:
		return int(rankObjectID)
	default:
		return int(rankObjectID) + 1
	}
}
