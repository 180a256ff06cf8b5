// Package postgres provides PostgreSQL-backed implementations of the data
// access interfaces defined in internal/store.
package postgres
