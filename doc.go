/*
Package docdb is a transactional, embedded document database: a thin
query/execution layer over a pluggable ordered key-value store.

Collections hold schemaless BSON documents. Callers declare secondary
indexes on dotted field paths and issue find/insert/update/replace/
delete/upsert/merge/distinct/count operations inside read-only or
read-write transactions.

# Keyspace

The keyspace layers three kinds of entries under a single ordered store:

 1. Record keys, one per document: "r<collection>\x00\x00<encoded-id>".
 2. Index keys, one per indexed leaf value:
    "i<collection>\x00\x00<field>\x00\x00<order-preserving value><encoded-id>".
 3. Catalog keys, collection metadata kept under the reserved "_sys_"
    column family.

Collection and field segments escape an embedded 0x00 as 0x00 0xFF and end
in 0x00 0x00; value and id encodings are self-delimiting and carry no
separator.

Indexed field paths are declared per collection in the catalog (see
catalog.go) and embedded directly in every index key — there is no
per-index ordinal or dedicated bucket to resolve.

# Value encoding

A record value is a small varint header (flags, TTL-derived expiry,
modification count) followed by the document's raw BSON wire bytes,
followed by the set of index-key rows the record currently contributes —
storing the old index keys alongside the document lets an update diff
exactly which index entries to remove without a second read. See
recordcodec.go and index.go.

# Query pipeline

A query is compiled from a Statement (see statement.go) into a Plan tree
of physical operators (see plan.go, planner.go) and interpreted by a
pull-based executor (see exec_*.go) whose nodes stream documents through
scan/filter/sort/project/distinct transformations. Cursor (cursor.go) is
the user-facing handle: it owns the statement, borrows a transaction, and
plans lazily on first iteration.
*/
package docdb
