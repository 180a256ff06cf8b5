// Package store defines the data access interfaces consumed by the export
// pipeline. Implementations live in internal/platform.
package store
