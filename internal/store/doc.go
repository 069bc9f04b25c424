// Package store keeps the turn ledger in SQLite.
//
// The remote service owns conversation history; the ledger only remembers
// what this gateway submitted. Each user submission becomes a Turn that moves
// through pending, posted, running and then completed or failed. When a turn
// fails after its message was posted, an explicit retry reads the ledger,
// reuses the original text and starts a new run without posting again, so the
// thread never collects duplicate user messages.
//
// SQLiteStore uses modernc.org/sqlite (no cgo). MockStore is an in-memory
// implementation for tests.
package store
