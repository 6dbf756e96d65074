// Package nonce provides idsite.NonceStore implementations.
//
// Every store records a response id with a single atomic insert-if-absent so
// concurrent callbacks carrying the same token cannot both succeed:
//
//   - MemoryStore: an expiring LRU guarded by a mutex, for single-instance deployments
//   - RedisStore: SET NX PX, shared across instances
//   - SQLStore: an upsert on PostgreSQL or SQLite, with a cron-driven purge of expired rows
//
// The retention TTL must cover the response token's maximum validity window
// (max age plus clock skew); ValidateTTL enforces that at startup.
package nonce
