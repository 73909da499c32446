// Package history persists render job outcomes in SQLite.
//
// Every RenderPipeline.Execute call with an attached store records a row when
// the job starts and updates it when the job finishes: status, failing stage,
// error classification, per-stage durations, and output size. The CLI's
// history command and the worker's status reports read from it.
//
// The schema is embedded and versioned. A database created by a different
// schema version is rejected with ErrSchemaMismatch rather than migrated.
package history
