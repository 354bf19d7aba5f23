// Package storage persists scheduled jobs and their firing history.
//
// Two drivers are available:
//   - "sqlite" (default): a single SQLite database via modernc.org/sqlite
//   - "file": JSON snapshot + journal files, useful for tests and tiny setups
package storage
