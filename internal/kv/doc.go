// Package kv is the key-value store behind the persisted registry and the
// feed seen-sets.
//
// It exposes two primitives, Redis style:
//   - ordered lists (append, range read)
//   - unordered sets (add, membership, full read)
//
// Writes happen inside Update, which is atomic per call. Backends:
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
//   - "badger": a Badger directory, or ":memory:" for an in-memory store
//
// If Driver is empty or "none", storage is disabled and Open returns (nil, nil).
package kv
