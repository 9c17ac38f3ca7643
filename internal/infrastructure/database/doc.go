// Package database provides SQLite connectivity for the mesh core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations loaded from a registered fs.FS
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and each .up.sql file should have a matching .down.sql.
package database
