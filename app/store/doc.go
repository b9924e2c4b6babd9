// Package store provides the embedded document store backing site collections.
// Documents are opaque JSON bodies addressed by collection and id, each write bumps
// the revision token and appends a record to the change feed. SQLite runs in WAL mode
// with a single connection, so writes are serialized and reads never see partial state.
package store
