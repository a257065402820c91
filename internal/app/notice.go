package app

import (
	"errors"

	"eventhub/internal/form"
	"eventhub/internal/models"
)

// Notice is a message shown to the user after an operation.
type Notice struct {
	Title   string
	Message string
}

func (n Notice) String() string { return n.Title + ": " + n.Message }

// DeletePrompt is the question asked before an event is deleted.
var DeletePrompt = Notice{
	Title:   "Confirm Deletion",
	Message: "Are you sure you want to delete this event? This cannot be undone.",
}

// NoticeFor converts an operation error into the message shown to the user. Provider
// causes are never included.
func NoticeFor(err error) Notice {
	switch {
	case err == nil:
		return Notice{}
	case errors.Is(err, models.ErrInitFailed):
		return Notice{"Error", "Failed to connect to the event store. Check your configuration."}
	case errors.Is(err, models.ErrInvalidCredentials):
		return Notice{"Error", "Invalid credentials or user type."}
	case errors.Is(err, models.ErrEmailTaken):
		return Notice{"Error", "An account with this email already exists."}
	case errors.Is(err, models.ErrSaveFailed):
		return Notice{"Error", "Failed to save event."}
	case errors.Is(err, models.ErrDeleteFailed):
		return Notice{"Error", "Failed to delete event."}
	case errors.Is(err, models.ErrNotSignedIn):
		return Notice{"Attention", "Please sign in first."}
	case errors.Is(err, models.ErrNotOrganizer):
		return Notice{"Attention", "You must be an Organizer to post events."}
	case errors.Is(err, models.ErrNotOwner):
		return Notice{"Attention", "You can only change events you posted."}
	case errors.Is(err, models.ErrEventNotFound):
		return Notice{"Attention", "That event no longer exists."}
	case errors.Is(err, models.ErrUnknownEventType),
		errors.Is(err, models.ErrInvalidDate),
		errors.Is(err, models.ErrUnknownField),
		errors.Is(err, models.ErrUnknownRole):
		return Notice{"Attention", err.Error()}
	}

	var missing *models.MissingFieldsError
	if errors.As(err, &missing) {
		for _, f := range missing.Fields {
			if f == "title" || f == "location" || f == "date" || f == "timing" || f == "description" {
				return Notice{"Attention", "Please fill in all required event details."}
			}
		}
		return Notice{"Attention", "Please fill in all required fields."}
	}
	return Notice{"Error", "An unexpected error occurred."}
}

// SignedUpNotice welcomes a newly registered user.
func SignedUpNotice(u models.User) Notice {
	name := u.Name
	if name == "" {
		name = u.Organization
	}
	if name == "" {
		name = "User"
	}
	return Notice{"Success", "Account created successfully! Welcome, " + name + "."}
}

// SavedNotice reports a successful submit.
func SavedNotice(out form.Outcome) Notice {
	if out.Result == form.Updated {
		return Notice{"Success", "Event updated successfully!"}
	}
	return Notice{"Success", "New event posted successfully!"}
}

// DeletedNotice reports a successful delete.
var DeletedNotice = Notice{"Success", "Event deleted successfully."}
