// Package repository confines data access to one project.
//
// A Repository decorates a store.Store. Each access path has its own
// enforcement point:
//
//   - filtered reads get the tenant field injected and every result re-checked
//   - primary key lookups are checked after the fetch
//   - creates are stamped with the scoped project
//   - updates and deletes re-fetch and check before mutating
//   - raw SQL must mention the tenant column and receives the project id
//
// A record owned by another project yields an authorization error with code
// TENANT_MISMATCH.
package repository
