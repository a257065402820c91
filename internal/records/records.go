// Package records maps stored documents to users and events. Field names follow the
// collections written by the legacy web client so existing data stays readable.
package records

import (
	"fmt"

	"eventhub/internal/models"
	"eventhub/internal/provider"
)

// User document fields.
const (
	FieldType         = "type"
	FieldEmail        = "email"
	FieldPassword     = "password"
	FieldPasswordHash = "passwordHash"
	FieldPhone        = "phone"
	FieldName         = "name"
	FieldAge          = "age"
	FieldGender       = "gender"
	FieldCollege      = "college"
)

// Event document fields.
const (
	FieldTitle        = "title"
	FieldLocation     = "location"
	FieldDate         = "date"
	FieldTiming       = "timing"
	FieldOrganization = "organization"
	FieldLink         = "link"
	FieldDescription  = "description"
	FieldOrganizerID  = "organizerId"
	FieldCreatedAt    = "createdAt"
	FieldUpdatedAt    = "updatedAt"
	FieldTimestamp    = "ts"
)

// DecodeUser builds a User from a users document.
func DecodeUser(doc provider.Document) (models.User, error) {
	role, err := models.ParseRole(doc.Fields.String(FieldType))
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", doc.ID, err)
	}
	f := doc.Fields
	return models.User{
		ID:           doc.ID,
		Role:         role,
		Email:        f.String(FieldEmail),
		Password:     f.String(FieldPassword),
		PasswordHash: f.String(FieldPasswordHash),
		Phone:        f.String(FieldPhone),
		Name:         f.String(FieldName),
		Age:          f.String(FieldAge),
		Gender:       f.String(FieldGender),
		College:      f.String(FieldCollege),
		Organization: f.String(FieldOrganization),
		CreatedAt:    f.String(FieldCreatedAt),
	}, nil
}

// EncodeUser returns the document fields for u. Role-specific fields are only written
// for the matching role, and only the credential field that is set is stored.
func EncodeUser(u models.User) provider.Fields {
	f := provider.Fields{
		FieldType:      string(u.Role),
		FieldEmail:     u.Email,
		FieldPhone:     u.Phone,
		FieldCreatedAt: u.CreatedAt,
	}
	if u.PasswordHash != "" {
		f[FieldPasswordHash] = u.PasswordHash
	} else {
		f[FieldPassword] = u.Password
	}
	switch u.Role {
	case models.RoleStudent:
		f[FieldName] = u.Name
		f[FieldAge] = u.Age
		f[FieldGender] = u.Gender
		f[FieldCollege] = u.College
	case models.RoleOrganizer:
		f[FieldOrganization] = u.Organization
	}
	return f
}

// DecodeEvent builds an Event from an events document. Unknown types are kept
// verbatim so that a record written by another client still renders.
func DecodeEvent(doc provider.Document) models.Event {
	f := doc.Fields
	return models.Event{
		ID:           doc.ID,
		Title:        f.String(FieldTitle),
		Type:         models.EventType(f.String(FieldType)),
		Location:     f.String(FieldLocation),
		Date:         f.String(FieldDate),
		Timing:       f.String(FieldTiming),
		Organization: f.String(FieldOrganization),
		Link:         f.String(FieldLink),
		Description:  f.String(FieldDescription),
		OrganizerID:  f.String(FieldOrganizerID),
		CreatedAt:    f.String(FieldCreatedAt),
		UpdatedAt:    f.String(FieldUpdatedAt),
		Timestamp:    f.Time(FieldTimestamp),
	}
}

// DecodeEvents decodes a snapshot in order.
func DecodeEvents(docs []provider.Document) []models.Event {
	out := make([]models.Event, 0, len(docs))
	for _, doc := range docs {
		out = append(out, DecodeEvent(doc))
	}
	return out
}

// EventContent returns the editable fields of an event document.
func EventContent(in models.EventInput) provider.Fields {
	return provider.Fields{
		FieldTitle:        in.Title,
		FieldType:         string(in.Type),
		FieldLocation:     in.Location,
		FieldDate:         in.Date,
		FieldTiming:       in.Timing,
		FieldOrganization: in.Organization,
		FieldLink:         in.Link,
		FieldDescription:  in.Description,
	}
}

// NewEventFields is the full document written when an organizer posts an event.
func NewEventFields(in models.EventInput, organizerID, now string) provider.Fields {
	f := EventContent(in)
	f[FieldOrganizerID] = organizerID
	f[FieldCreatedAt] = now
	f[FieldUpdatedAt] = now
	f[FieldTimestamp] = provider.ServerTimestamp
	return f
}

// EventUpdateFields is the merge payload of an edit. It never carries the owner or the
// creation time.
func EventUpdateFields(in models.EventInput, now string) provider.Fields {
	f := EventContent(in)
	f[FieldUpdatedAt] = now
	f[FieldTimestamp] = provider.ServerTimestamp
	return f
}
