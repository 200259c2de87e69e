// Package queue persists pipeline records in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, stale-claim recovery, and phase transitions
// that mirror the public workflow enum. Records carry the training plan,
// progress, and error surface; dataset manifests and model artifacts capture
// stage outputs so later stages can coordinate without extra state.
//
// Stages never delete rows. Records survive as run history until an operator
// clear command removes them. Schema changes bump the version in schema.go;
// users clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for record semantics; when
// you add new phases or columns, update schema.sql and bump schemaVersion.
package queue
