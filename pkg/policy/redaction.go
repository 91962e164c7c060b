package policy

import "github.com/platinummonkey/sitegate/pkg/auth"

// contractorBudgetFields are cost-bearing budget fields hidden from contractors
var contractorBudgetFields = []string{
	"estUnitCost",
	"estTotal",
	"actUnitCost",
	"actTotal",
	"committedTotal",
	"paidToDate",
	"variance",
	"variancePercent",
	"varianceAmount",
	"costToComplete",
}

// viewerFields are generically sensitive fields hidden from viewers in every module
var viewerFields = []string{
	"cost",
	"price",
	"amount",
	"rate",
	"salary",
	"unitCost",
	"unitPrice",
	"totalCost",
	"totalPrice",
	"totalAmount",
	"hourlyRate",
}

// RedactedFields returns the fields stripped for role in module, or nil
func RedactedFields(role auth.SystemRole, module Module) []string {
	switch {
	case role == auth.RoleContractor && module == ModuleBudget:
		return contractorBudgetFields
	case role == auth.RoleViewer:
		return viewerFields
	}
	return nil
}

// ApplyDataRedaction returns a shallow copy of record without the fields role
// may not see in module. The input is never modified, and applying it twice
// gives the same result as once.
func ApplyDataRedaction(record map[string]any, role auth.SystemRole, module Module) map[string]any {
	if record == nil {
		return nil
	}

	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	for _, field := range RedactedFields(role, module) {
		delete(out, field)
	}
	return out
}

// RedactAll applies ApplyDataRedaction to every record
func RedactAll(records []map[string]any, role auth.SystemRole, module Module) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, record := range records {
		out[i] = ApplyDataRedaction(record, role, module)
	}
	return out
}
