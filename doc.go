// Package shimstore is a unified client-side structured-storage layer:
// one key/value-plus-index API over two interchangeable backends, an
// in-process native object store and a relational SQL engine, with a
// restricted SQL-flavored query compiler and a cursor state machine for
// the relational backend's result sets.
//
// A database is described by a DatabaseSchema (stores, key paths,
// indexes). Connection opens that schema against a chosen Backend,
// reconciling it if needed, and serializes every transaction through a
// single logical executor so callers never have to reason about
// concurrent writers inside one connection. Reads and writes go through
// Query values compiled either to a native index-cursor scan or to a
// compiled SQL statement, depending on which Backend the connection was
// opened with.
package shimstore
