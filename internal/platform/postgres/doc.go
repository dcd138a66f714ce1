// Package postgres provides PostgreSQL implementations of the store
// interfaces defined in the store package. All implementations accept a
// store.DBTX so they work inside or outside a transaction.
package postgres
