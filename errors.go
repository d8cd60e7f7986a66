package docdb

import (
	"fmt"
	"strings"
)

// StoreKind enumerates failure modes at the pluggable KV-backend level.
type StoreKind int

const (
	StoreOther StoreKind = iota
	StoreTransactionConsumed
	StoreReadOnly
	StoreIO
)

func (k StoreKind) String() string {
	switch k {
	case StoreTransactionConsumed:
		return "transaction consumed"
	case StoreReadOnly:
		return "read-only transaction"
	case StoreIO:
		return "storage I/O"
	default:
		return "store error"
	}
}

// StoreError wraps a failure reported by the underlying storage backend.
type StoreError struct {
	Kind StoreKind
	Err  error
}

func storeErrf(kind StoreKind, err error) error {
	return &StoreError{Kind: kind, Err: err}
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("store: %s", e.Kind)
}

// EngineKind enumerates failure modes at the engine-transaction level:
// documents, keys, the catalog, index maintenance.
type EngineKind int

const (
	EngineStore EngineKind = iota
	EngineInvalidKey
	EngineEncoding
	EngineCollectionNotFound
	EngineDuplicateKey
	EngineInvalidDocument
)

func (k EngineKind) String() string {
	switch k {
	case EngineInvalidKey:
		return "invalid key"
	case EngineEncoding:
		return "encoding error"
	case EngineCollectionNotFound:
		return "collection not found"
	case EngineDuplicateKey:
		return "duplicate key"
	case EngineInvalidDocument:
		return "invalid document"
	default:
		return "engine error"
	}
}

// EngineError is raised by the engine transaction layer (put/get/delete,
// catalog operations, index maintenance). It wraps a StoreError when the
// failure originated below it, or stands alone for encoding/validation/
// catalog failures detected at this layer.
type EngineError struct {
	Kind       EngineKind
	Collection string
	Key        []byte
	Msg        string
	Err        error
}

func engineErrf(kind EngineKind, coll string, key []byte, err error, format string, args ...any) error {
	return &EngineError{Kind: kind, Collection: coll, Key: key, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Kind.String())
	if e.Collection != "" {
		buf.WriteByte(' ')
		buf.WriteString(e.Collection)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(truncatedHex(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// QueryKind enumerates failure modes surfaced at the planner/cursor
// boundary: plan rejection and point-lookup misses.
type QueryKind int

const (
	QueryInvalid QueryKind = iota
	QueryNotFound
)

// QueryError is raised by the planner (rejecting a Statement it cannot
// compile into a Plan). QueryNotFound is defined for point-lookup misses,
// but no operation in this package returns it: FindByID reports a miss as
// ok=false.
type QueryError struct {
	Kind QueryKind
	Msg  string
	Err  error
}

func queryErrf(kind QueryKind, err error, format string, args ...any) error {
	return &QueryError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Error() string {
	if e.Kind == QueryNotFound {
		if e.Msg != "" {
			return fmt.Sprintf("not found: %s", e.Msg)
		}
		return "not found"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid query: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("invalid query: %s", e.Msg)
}

// IsDuplicateKey reports whether err (or a wrapped cause) is a primary-key
// collision reported by PutNX.
func IsDuplicateKey(err error) bool {
	ee, ok := asEngineError(err)
	return ok && ee.Kind == EngineDuplicateKey
}

// IsCollectionNotFound reports whether err (or a wrapped cause) indicates an
// unknown collection name.
func IsCollectionNotFound(err error) bool {
	ee, ok := asEngineError(err)
	return ok && ee.Kind == EngineCollectionNotFound
}

func asEngineError(err error) (*EngineError, bool) {
	for err != nil {
		if ee, ok := err.(*EngineError); ok {
			return ee, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func truncatedHex(b []byte) string {
	const prefixLen = 16
	if len(b) <= prefixLen {
		return fmt.Sprintf("%x", b)
	}
	return fmt.Sprintf("%x...", b[:prefixLen])
}
