// Package database provides SQLite persistence for the bridge.
//
// The database stores the confirmed state of every output channel so
// that a restart can restore the controller's relays to where they
// were. Schema changes are applied through embedded, versioned
// migrations tracked in the schema_migrations table.
//
// SQLite is opened in WAL mode with a single-connection pool, which
// matches its single-writer model.
package database
