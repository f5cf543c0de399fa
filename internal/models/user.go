package models

import (
	"time"

	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// Role scopes what a user may do in the workflows.
type Role string

const (
	RoleAdministrator    Role = "administrator"
	RoleIssuingAuthority Role = "issuing_authority"
	RoleClientReviewer   Role = "client_reviewer"
	RoleRecipient        Role = "recipient"
)

// CanVerify reports whether users of this role may verify documents and issue
// certificates.
func (r Role) CanVerify() bool {
	return r == RoleAdministrator || r == RoleIssuingAuthority
}

func (r Role) IsValid() bool {
	switch r {
	case RoleAdministrator, RoleIssuingAuthority, RoleClientReviewer, RoleRecipient:
		return true
	}
	return false
}

// UserStatus is the account lifecycle state. Users are never hard-deleted.
type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// CanTransitionTo enforces pending → {active, suspended}, active ↔ suspended.
func (s UserStatus) CanTransitionTo(next UserStatus) bool {
	switch s {
	case UserStatusPending:
		return next == UserStatusActive || next == UserStatusSuspended
	case UserStatusActive:
		return next == UserStatusSuspended
	case UserStatusSuspended:
		return next == UserStatusActive
	}
	return false
}

// User is a registered account of any role.
type User struct {
	ID          string
	Email       string
	Name        string
	Role        Role
	Status      UserStatus
	Permissions []string
	Placeholder bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// CanChangeStatus checks the user status machine.
func (u *User) CanChangeStatus(next UserStatus) error {
	if !u.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation, "user cannot move from "+string(u.Status)+" to "+string(next))
	}
	return nil
}

// ApplyStatus sets the status. Call CanChangeStatus first.
func (u *User) ApplyStatus(next UserStatus, now time.Time) {
	u.Status = next
	u.UpdatedAt = now
}

// NewPlaceholderRecipient builds the minimal active recipient created when a
// certificate names an email nobody has registered with yet.
func NewPlaceholderRecipient(id, email string, now time.Time) *User {
	return &User{
		ID:          id,
		Email:       email,
		Role:        RoleRecipient,
		Status:      UserStatusActive,
		Placeholder: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (u *User) Fields() map[string]any {
	return map[string]any{
		"email":       u.Email,
		"name":        u.Name,
		"role":        string(u.Role),
		"status":      string(u.Status),
		"permissions": u.Permissions,
		"placeholder": u.Placeholder,
		"createdAt":   records.FormatTime(u.CreatedAt),
		"updatedAt":   records.FormatTime(u.UpdatedAt),
	}
}

func UserFromRecord(rec records.Record) *User {
	return &User{
		ID:          rec.ID,
		Email:       rec.String("email"),
		Name:        rec.String("name"),
		Role:        Role(rec.String("role")),
		Status:      UserStatus(rec.String("status")),
		Permissions: rec.Strings("permissions"),
		Placeholder: rec.Bool("placeholder"),
		CreatedAt:   rec.Time("createdAt"),
		UpdatedAt:   rec.Time("updatedAt"),
	}
}
