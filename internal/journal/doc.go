// Package journal records store notifications in SQLite.
//
// A Journal attaches to one or more stores as an ordinary listener and
// appends every notification it sees: the global events plus the field
// events of every field the store had when attached. It never feeds
// anything back into a store; it is an audit and debugging trail.
//
// # Patterns
//
// Logical ordering:
//   - Rows are ordered by the store's seq counter, never by wall time
//   - Queries use ORDER BY seq ASC, id COLLATE BINARY ASC
//
// Content-addressed IDs:
//   - id = SHA-256 of the canonical JSON of (store, seq, type, name)
//   - Writes use ON CONFLICT(id) DO NOTHING, so re-recording is harmless
//
// Payloads:
//   - args, value and previous are stored as RFC 8785 canonical JSON
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes (file databases)
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package journal
