// Package store is the generic entity persistence layer consumed by the
// scoped repository. It knows nothing about tenants.
//
// MemoryStore serves development and tests. SQLStore maps each entity to a
// PostgreSQL table of the same name and each field to a quoted column.
package store
