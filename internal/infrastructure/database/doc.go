// Package database provides SQLite connectivity for the fleet registry.
//
// The registry (displays, content impressions, audit trail) lives in a
// single SQLite file opened in WAL mode with a busy timeout. Schema changes
// are versioned .sql files applied by Migrate; the files themselves are
// embedded by the top-level migrations package and passed in as an fs.FS.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
