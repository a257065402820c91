// Package authz holds the checks every mutating event operation passes before it
// reaches the provider.
package authz

import "eventhub/internal/models"

// CanCreateOrEdit reports whether user may post or edit events at all.
func CanCreateOrEdit(user *models.User) bool {
	return user != nil && user.Role == models.RoleOrganizer
}

// CanMutate reports whether user may edit or delete ev. Ownership is decided by the
// organizer email recorded on the event and nothing else.
func CanMutate(user *models.User, ev models.Event) bool {
	return CanCreateOrEdit(user) && ev.OrganizerID != "" && ev.OrganizerID == user.Email
}

// RequireOrganizer returns the error matching why CanCreateOrEdit fails.
func RequireOrganizer(user *models.User) error {
	if user == nil {
		return models.ErrNotSignedIn
	}
	if user.Role != models.RoleOrganizer {
		return models.ErrNotOrganizer
	}
	return nil
}

// RequireOwner returns the error matching why CanMutate fails.
func RequireOwner(user *models.User, ev models.Event) error {
	if err := RequireOrganizer(user); err != nil {
		return err
	}
	if !CanMutate(user, ev) {
		return models.ErrNotOwner
	}
	return nil
}
