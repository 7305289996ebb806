// Package store defines the aggregate persistence interface.
//
// The queue subsystem (msg) and the dead letter subsystem (dlq) each
// define their own store interface. The composite [Store] composes
// both plus lifecycle methods; a single backend implements Store so
// that the dead-letter move on terminal failure happens in the same
// transaction as the delete from the main table.
//
// The composite interface:
//
//	type Store interface {
//	    msg.Store
//	    dlq.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/sqlite — embedded on-disk SQLite backend; the production
//     default, since queue state must survive process restarts
//
// # Usage
//
//	import "github.com/steadyq/steadyq/store/sqlite"
//
//	db, err := sqlite.Open("steadyq.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	s := sqlite.New(db)
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := engine.New(engine.WithStore(s))
package store
