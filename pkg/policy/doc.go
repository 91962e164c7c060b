// Package policy decides whether a principal may act on a project's data.
//
// Decisions are made from three inputs: the project membership row, the
// per-module access rows of that membership, and a single permission table.
//
//	read    requires canView
//	write   requires canEdit
//	export  requires canView
//	delete  requires canEdit
//	approve requires canEdit and a membership role of ADMIN or STAFF
//
// A missing membership is always an authorization failure. The package also
// owns field redaction by role, time-of-day access windows, role based rate
// limit tiers and the access administration service with its preset catalog.
//
// Example:
//
//	engine := policy.NewEngine(policy.NewSQLStore(db), users, policy.WithCache(10000, time.Minute))
//	m, err := engine.AssertModuleAccess(ctx, userID, projectID, policy.ModuleBudget, policy.PermissionRead)
//	if err != nil {
//		return err
//	}
//	item = policy.ApplyDataRedaction(item, m.Role, policy.ModuleBudget)
package policy
