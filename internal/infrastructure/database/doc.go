// Package database provides SQLite connectivity for the RelayHub entity store.
//
// It manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Ordered, per-transaction schema migrations read from an fs.FS
//   - Health checks for the /health endpoint
//
// All queries in the repositories built on top use parameterised statements.
// The pool is limited to one connection because SQLite has a single writer;
// this also serialises the compare-and-set updates the relay relies on.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
