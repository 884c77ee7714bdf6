// Package auth authenticates clinic staff and authorizes them against the
// capability set of their role.
package auth

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	ModulePatients     = "patients"
	ModuleAppointments = "appointments"
	ModuleMedical      = "medical"
	ModuleBilling      = "billing"
	ModuleAdmin        = "admin"
	ModuleReports      = "reports"
	ModuleAudit        = "audit"
)

const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	// ActionAll grants every action on its module.
	ActionAll = "all"
)

var (
	Modules = []string{ModulePatients, ModuleAppointments, ModuleMedical, ModuleBilling, ModuleAdmin, ModuleReports, ModuleAudit}
	Actions = []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
)

type Permission struct {
	Module string `json:"module"`
	Action string `json:"action"`
}

// Capabilities is the set of (module, action) pairs a role holds.
type Capabilities []Permission

func (c Capabilities) Allows(module, action string) bool {
	return slices.ContainsFunc(c, func(p Permission) bool {
		return p.Module == module && (p.Action == action || p.Action == ActionAll)
	})
}

// AllPermissions is every concrete module/action pair.
func AllPermissions() Capabilities {
	out := make(Capabilities, 0, len(Modules)*len(Actions))
	for _, m := range Modules {
		for _, a := range Actions {
			out = append(out, Permission{Module: m, Action: a})
		}
	}
	return out
}

type Role struct {
	Name         string
	Description  string
	Capabilities Capabilities
}

const (
	RoleAdministrator = "Administrador"
	RoleDoctor        = "Médico"
)

// DefaultRoles is the role catalog installed by the seeder. The
// administrator holds every pair explicitly.
func DefaultRoles() []Role {
	all := AllPermissions()
	pick := func(keep func(p Permission) bool) Capabilities {
		var out Capabilities
		for _, p := range all {
			if keep(p) {
				out = append(out, p)
			}
		}
		return out
	}
	reads := func(modules ...string) func(p Permission) bool {
		return func(p Permission) bool { return p.Action == ActionRead && slices.Contains(modules, p.Module) }
	}

	return []Role{
		{Name: RoleAdministrator, Description: "Administrador del sistema", Capabilities: all},
		{Name: "Recepción", Description: "Recepción y admisión", Capabilities: pick(func(p Permission) bool {
			return p.Module == ModulePatients || p.Module == ModuleAppointments || reads(ModuleMedical, ModuleBilling)(p)
		})},
		{Name: RoleDoctor, Description: "Médico tratante", Capabilities: pick(func(p Permission) bool {
			return p.Module == ModuleMedical ||
				(p.Module == ModuleAppointments && (p.Action == ActionRead || p.Action == ActionUpdate)) ||
				reads(ModulePatients, ModuleBilling)(p)
		})},
		{Name: "Facturación", Description: "Facturación y caja", Capabilities: pick(func(p Permission) bool {
			return p.Module == ModuleBilling || reads(ModulePatients, ModuleAppointments)(p)
		})},
		{Name: "Gerencia", Description: "Gerencia y reportes", Capabilities: pick(func(p Permission) bool {
			return p.Module == ModuleReports || reads(ModuleAudit, ModulePatients, ModuleAppointments, ModuleBilling, ModuleMedical)(p)
		})},
	}
}

type User struct {
	ID             uuid.UUID
	Username       string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	RoleID         uuid.UUID
	Role           string
	DoctorID       *uuid.UUID
	IsActive       bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLogin      *time.Time
	DeletedAt      *time.Time
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID       uuid.UUID    `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	Role         string       `json:"role"`
	RoleID       uuid.UUID    `json:"roleId"`
	DoctorID     *uuid.UUID   `json:"doctorId,omitempty"`
	Capabilities Capabilities `json:"permissions"`

	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

func (p *Principal) Allows(module, action string) bool {
	return p != nil && p.Capabilities.Allows(module, action)
}

func principalOf(u *User, caps Capabilities) *Principal {
	if caps == nil {
		caps = Capabilities{}
	}
	return &Principal{
		UserID:       u.ID,
		Username:     u.Username,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         u.Role,
		RoleID:       u.RoleID,
		DoctorID:     u.DoctorID,
		Capabilities: caps,
	}
}
