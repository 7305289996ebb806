// Package sqlite implements store.Store on SQLite via the Bun query
// builder. Queue state lives in a single database file and survives
// process restarts, which makes this the default backend for bots and
// other single-process deployments.
//
// The sqliteshim driver picks a CGO or pure-Go SQLite build at compile
// time, so the store works without a C toolchain. Open tunes the
// connection for queue use (WAL, busy timeout, one connection); callers
// that need different settings can build their own *bun.DB and pass it
// to New:
//
//	db, err := sqlite.Open("steadyq.db")
//	if err != nil { ... }
//	defer db.Close()
//
//	store := sqlite.New(db)
//	if err := store.Migrate(ctx); err != nil { ... }
//
// Timestamps are stored as unix milliseconds. Dequeue claims and
// dead-letter moves run in transactions, so a message row exists in
// exactly one of the two tables at any point.
package sqlite
