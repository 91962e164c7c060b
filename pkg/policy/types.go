package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/sitegate/pkg/auth"
)

// Module is a functional area of a project with its own permission flags
type Module string

const (
	ModuleTasks       Module = "TASKS"
	ModuleBudget      Module = "BUDGET"
	ModuleProcurement Module = "PROCUREMENT"
	ModuleContacts    Module = "CONTACTS"
	ModulePlans       Module = "PLANS"
	ModuleSchedule    Module = "SCHEDULE"
	ModuleDocuments   Module = "DOCUMENTS"
	ModuleDailyLogs   Module = "DAILY_LOGS"
)

// AllModules returns every module in display order
func AllModules() []Module {
	return []Module{
		ModuleTasks, ModuleBudget, ModuleProcurement, ModuleContacts,
		ModulePlans, ModuleSchedule, ModuleDocuments, ModuleDailyLogs,
	}
}

// Valid reports whether m is a known module
func (m Module) Valid() bool {
	for _, known := range AllModules() {
		if m == known {
			return true
		}
	}
	return false
}

// ParseModule parses a module name, case-insensitively
func ParseModule(s string) (Module, error) {
	m := Module(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown module %q", s)
	}
	return m, nil
}

// Permission is an operation requested against a module
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionExport  Permission = "export"
	PermissionDelete  Permission = "delete"
	PermissionApprove Permission = "approve"
)

// AllPermissions returns every permission in table order
func AllPermissions() []Permission {
	return []Permission{PermissionRead, PermissionWrite, PermissionExport, PermissionDelete, PermissionApprove}
}

// Valid reports whether p is a known permission
func (p Permission) Valid() bool {
	_, ok := permissionTable[p]
	return ok
}

// ModuleAccess holds the four independent permission axes of a user on one
// module of one project. CanEdit does not imply CanView.
type ModuleAccess struct {
	UserID     string `json:"userId"`
	ProjectID  string `json:"projectId"`
	Module     Module `json:"module"`
	CanView    bool   `json:"canView"`
	CanEdit    bool   `json:"canEdit"`
	CanUpload  bool   `json:"canUpload"`
	CanRequest bool   `json:"canRequest"`
}

// AccessWindow restricts a membership to hours of the day, and optionally
// days of the week, in a timezone. StartHour greater than EndHour wraps past
// midnight. StartHour equal to EndHour covers the whole day.
type AccessWindow struct {
	StartHour  int            `json:"startHour" yaml:"startHour"`
	EndHour    int            `json:"endHour" yaml:"endHour"`
	Timezone   string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty" yaml:"daysOfWeek,omitempty"`
}

// Membership binds a user to a project with a project-scoped role.
// The membership role, not the system role, governs in-project decisions.
type Membership struct {
	ProjectID    string          `json:"projectId"`
	UserID       string          `json:"userId"`
	Role         auth.SystemRole `json:"role"`
	AccessWindow *AccessWindow   `json:"accessWindow,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Requirement pairs a module with the permission needed on it
type Requirement struct {
	Module     Module
	Permission Permission
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s:%s", r.Module, r.Permission)
}

// ErrNotFound is returned by a MembershipStore when a row does not exist
var ErrNotFound = errors.New("policy: not found")

// MembershipStore persists memberships and module access rows
type MembershipStore interface {
	GetMembership(ctx context.Context, userID, projectID string) (*Membership, error)
	GetModuleAccess(ctx context.Context, userID, projectID string, module Module) (*ModuleAccess, error)
	ListModuleAccess(ctx context.Context, userID, projectID string) ([]ModuleAccess, error)
	ListProjects(ctx context.Context, userID string) ([]string, error)

	// PutMembership inserts or replaces the membership for (project, user)
	PutMembership(ctx context.Context, m *Membership) error
	// DeleteMembership removes the membership and every module row of the pair
	DeleteMembership(ctx context.Context, userID, projectID string) error
	// PutModuleAccess inserts or replaces the row for (user, project, module)
	PutModuleAccess(ctx context.Context, access *ModuleAccess) error
}
