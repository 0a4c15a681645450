// Package db wraps pgx connection pooling for the cleanup runner: pooled
// connect with startup retry, an all-or-nothing transaction helper that every
// batch runs inside, and a goose migrator for the runner's own bookkeeping
// table. Handler batches never share a transaction; each batch opens and
// closes its own via WithTx.
package db
