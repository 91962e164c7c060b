package api

import (
	"sort"

	"github.com/platinummonkey/sitegate/pkg/policy"
)

// Entities maps a stored entity name to the module that governs it
type Entities map[string]policy.Module

// DefaultEntities returns the entity catalog of the construction platform
func DefaultEntities() Entities {
	return Entities{
		"tasks":           policy.ModuleTasks,
		"budget_items":    policy.ModuleBudget,
		"purchase_orders": policy.ModuleProcurement,
		"contacts":        policy.ModuleContacts,
		"plans":           policy.ModulePlans,
		"schedule_items":  policy.ModuleSchedule,
		"documents":       policy.ModuleDocuments,
		"daily_logs":      policy.ModuleDailyLogs,
	}
}

// Module returns the module governing entity
func (e Entities) Module(entity string) (policy.Module, bool) {
	m, ok := e[entity]
	return m, ok
}

// Names returns the entity names in sorted order
func (e Entities) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
