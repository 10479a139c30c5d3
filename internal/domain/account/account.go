package account

import (
	"strings"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Role determines which engine operations an account may perform.
type Role string

const (
	// RoleAdmin - school administrator.
	RoleAdmin Role = "admin"
	// RoleTeacher - staff member who awards points.
	RoleTeacher Role = "teacher"
	// RoleStudent - house member who earns and spends points.
	RoleStudent Role = "student"
	// RoleUnapproved - signed in but not yet assigned a role.
	RoleUnapproved Role = "unapproved"
)

// IsValid checks the role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleUnapproved:
		return true
	default:
		return false
	}
}

// IsStaff returns true for teachers and admins.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// ParseRole converts free-form input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", shared.ErrInvalidRole
	}
	return r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ACCOUNT
// ══════════════════════════════════════════════════════════════════════════════

// Account is a participant together with the engine-owned point counters.
type Account struct {
	// ID - opaque identifier supplied by the identity collaborator.
	ID string

	// Email - sign-in address.
	Email string

	// DisplayName - name shown on leaderboards.
	DisplayName string

	// Role - current role.
	Role Role

	// HouseID - house membership; students only, empty otherwise.
	HouseID string

	// Grade - grade level; students only, zero otherwise.
	Grade shared.Grade

	// PointsEarned - sum of all committed awards. Engine-owned.
	PointsEarned int64

	// PointsSpent - sum of priceAtPurchase over committed purchases. Engine-owned.
	PointsSpent int64

	// Version - optimistic concurrency token, managed by the store.
	Version int64

	// CreatedAt - time the account was first seen.
	CreatedAt time.Time

	// UpdatedAt - time of the last write.
	UpdatedAt time.Time
}

// AvailablePoints returns the spendable balance.
func (a Account) AvailablePoints() int64 {
	return a.PointsEarned - a.PointsSpent
}

// IsStudent returns true if the account can earn points.
func (a Account) IsStudent() bool {
	return a.Role == RoleStudent
}

// Name returns the display name, falling back to the id.
func (a Account) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}

// EnsureStudentOf checks the account is a student assigned to houseID.
func (a Account) EnsureStudentOf(houseID string) error {
	if !a.IsStudent() {
		return shared.ErrNotAStudent
	}
	if a.HouseID == "" {
		return shared.ErrStudentHasNoHouse
	}
	if a.HouseID != houseID {
		return shared.ErrHouseMismatch
	}
	return nil
}

// Credit adds awarded points.
func (a *Account) Credit(points shared.Points) error {
	if !points.IsPositive() {
		return shared.NewValidationError("account", "Credit", "points must be positive")
	}
	a.PointsEarned += points.Int64()
	return nil
}

// Debit spends points, refusing to take the balance below zero.
func (a *Account) Debit(price shared.Points) error {
	if !price.IsPositive() {
		return shared.NewValidationError("account", "Debit", "price must be positive")
	}
	if a.AvailablePoints() < price.Int64() {
		return shared.ErrInsufficientPoints
	}
	a.PointsSpent += price.Int64()
	return nil
}

// State returns the committed counter values for subscribers.
func (a Account) State() shared.AggregateState {
	return shared.AggregateState{
		Kind:    shared.AggregateAccount,
		ID:      a.ID,
		Version: a.Version,
		Counters: map[string]int64{
			shared.CounterPointsEarned:    a.PointsEarned,
			shared.CounterPointsSpent:     a.PointsSpent,
			shared.CounterAvailablePoints: a.AvailablePoints(),
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE (catalog-owned fields)
// ══════════════════════════════════════════════════════════════════════════════

// Profile carries the fields the identity and catalog collaborators may set.
// Applying a profile never touches the counters.
type Profile struct {
	ID          string
	Email       string
	DisplayName string
	Role        Role
	HouseID     string
	Grade       shared.Grade
}

// Validate checks the profile before it reaches the store.
func (p Profile) Validate() error {
	if err := shared.ValidateID("account", "Validate", "id", p.ID); err != nil {
		return err
	}
	if p.Role == "" {
		p.Role = RoleUnapproved
	}
	if !p.Role.IsValid() {
		return shared.ErrInvalidRole
	}
	if p.Role != RoleStudent && (p.HouseID != "" || p.Grade.IsSet()) {
		return shared.NewValidationError("account", "Validate", "only students carry a house and grade")
	}
	if p.Grade.IsSet() && !p.Grade.IsValid() {
		return shared.NewValidationError("account", "Validate", "grade must be between 9 and 12")
	}
	return nil
}

// Apply copies the profile fields onto an account and returns the result.
func (p Profile) Apply(a Account, now time.Time) Account {
	role := p.Role
	if role == "" {
		role = RoleUnapproved
	}
	a.ID = p.ID
	a.Email = p.Email
	a.DisplayName = strings.TrimSpace(p.DisplayName)
	a.Role = role
	a.HouseID = p.HouseID
	a.Grade = p.Grade
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return a
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLER
// ══════════════════════════════════════════════════════════════════════════════

// Caller is the identity supplied by the trusted identity collaborator for
// every engine operation. The engine does not authenticate it.
type Caller struct {
	ID   string
	Role Role
}

// Validate checks the caller is well-formed.
func (c Caller) Validate() error {
	if c.ID == "" {
		return shared.NewDomainError("account", "Caller", shared.ErrUnauthorized, "caller id is required")
	}
	if !c.Role.IsValid() {
		return shared.NewDomainError("account", "Caller", shared.ErrUnauthorized, "caller role is invalid")
	}
	return nil
}

// Require returns ErrForbidden unless the caller holds one of roles.
func (c Caller) Require(op string, roles ...Role) error {
	if err := c.Validate(); err != nil {
		return err
	}
	for _, r := range roles {
		if c.Role == r {
			return nil
		}
	}
	return shared.NewDomainError("account", op, shared.ErrForbidden, "role "+string(c.Role)+" may not perform "+op)
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTER
// ══════════════════════════════════════════════════════════════════════════════

// Filter narrows account listings. Zero values match everything.
type Filter struct {
	Role    Role
	HouseID string
	Grade   shared.Grade
}

// Matches reports whether a satisfies the filter.
func (f Filter) Matches(a Account) bool {
	if f.Role != "" && a.Role != f.Role {
		return false
	}
	if f.HouseID != "" && a.HouseID != f.HouseID {
		return false
	}
	if f.Grade.IsSet() && a.Grade != f.Grade {
		return false
	}
	return true
}
