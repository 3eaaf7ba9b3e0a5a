// Package records is the teamchat Identity & Record Store boundary.
//
// It owns durable users (with credentials and presence columns), channels,
// channel memberships and messages. Three implementations share one contract:
// MemoryStore for development and tests, PostgresStore (pgx) for production
// and SQLiteStore (gorm) for single-node deployments.
//
// Errors are typed: callers branch on the sentinel kinds in kinds.go via
// errors.Is, or on ConflictError / NotFoundError via errors.As.
package records
