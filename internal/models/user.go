package models

import (
	"fmt"
	"strings"
)

// Role is the application-level account type.
type Role string

const (
	RoleStudent   Role = "student"
	RoleOrganizer Role = "organizer"
)

// ParseRole accepts "student" or "organizer", ignoring case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleOrganizer:
		return RoleOrganizer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Label is the capitalised role name shown to users.
func (r Role) Label() string {
	switch r {
	case RoleStudent:
		return "Student"
	case RoleOrganizer:
		return "Organizer"
	}
	return string(r)
}

// User is an application user record. Credentials are never exposed in JSON.
type User struct {
	ID           string `json:"id"`
	Role         Role   `json:"type"`
	Email        string `json:"email"`
	Password     string `json:"-"` // plain-scheme credential
	PasswordHash string `json:"-"` // bcrypt-scheme credential
	Phone        string `json:"phone"`
	Name         string `json:"name,omitempty"`
	Age          string `json:"age,omitempty"`
	Gender       string `json:"gender,omitempty"`
	College      string `json:"college,omitempty"`
	Organization string `json:"organization,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// IsOrganizer reports whether u holds the organizer role.
func (u User) IsOrganizer() bool { return u.Role == RoleOrganizer }

// DisplayName picks the friendliest non-empty identifier.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Organization != "":
		return u.Organization
	default:
		return u.Email
	}
}

// DefaultOrganization is what the event form pre-fills for this user.
func (u User) DefaultOrganization() string {
	if u.Organization != "" {
		return u.Organization
	}
	return u.Email
}

// NormalizeEmail trims and lowercases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUpForm carries the registration fields for either role.
// Role-specific requirements are expressed with required_if.
type SignUpForm struct {
	Role         Role   `json:"type" validate:"required,oneof=student organizer"`
	Email        string `json:"email" validate:"required"`
	Password     string `json:"password" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	Name         string `json:"name" validate:"required_if=Role student"`
	Age          string `json:"age" validate:"required_if=Role student"`
	Gender       string `json:"gender" validate:"required_if=Role student"`
	College      string `json:"college"`
	Organization string `json:"organization" validate:"required_if=Role organizer"`
}

// Normalized trims every field and lowercases the email.
func (f SignUpForm) Normalized() SignUpForm {
	return SignUpForm{
		Role:         f.Role,
		Email:        NormalizeEmail(f.Email),
		Password:     strings.TrimSpace(f.Password),
		Phone:        strings.TrimSpace(f.Phone),
		Name:         strings.TrimSpace(f.Name),
		Age:          strings.TrimSpace(f.Age),
		Gender:       strings.TrimSpace(f.Gender),
		College:      strings.TrimSpace(f.College),
		Organization: strings.TrimSpace(f.Organization),
	}
}

// SignUpFields lists the fields a role is asked for, in prompt order.
func SignUpFields(role Role) []string {
	if role == RoleOrganizer {
		return []string{"organization", "email", "password", "phone"}
	}
	return []string{"name", "age", "gender", "college", "email", "password", "phone"}
}

// Set assigns a sign-up field by its wire name.
func (f *SignUpForm) Set(field, value string) error {
	switch strings.ToLower(field) {
	case "email":
		f.Email = value
	case "password":
		f.Password = value
	case "phone":
		f.Phone = value
	case "name":
		f.Name = value
	case "age":
		f.Age = value
	case "gender":
		f.Gender = value
	case "college":
		f.College = value
	case "organization":
		f.Organization = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}
