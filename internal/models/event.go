package models

import (
	"fmt"
	"strings"
	"time"
)

// EventType is one of the fixed event categories.
type EventType string

const (
	TypeHackathon EventType = "Hackathon"
	TypeSeminar   EventType = "Seminar"
	TypeWebinar   EventType = "Webinar"
	TypeWorkshop  EventType = "Workshop"
)

// EventTypes lists the categories in display order. The first entry is the form default.
var EventTypes = []EventType{TypeHackathon, TypeSeminar, TypeWebinar, TypeWorkshop}

// ParseEventType matches s against the known categories, ignoring case.
func ParseEventType(s string) (EventType, error) {
	s = strings.TrimSpace(s)
	for _, t := range EventTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

// Filter selects which events the student view shows: a single EventType or FilterAll.
type Filter string

const FilterAll Filter = "All"

// Filters lists every selectable filter value, FilterAll first.
func Filters() []Filter {
	out := []Filter{FilterAll}
	for _, t := range EventTypes {
		out = append(out, Filter(t))
	}
	return out
}

// ParseFilter accepts "All" or any event type, ignoring case.
func ParseFilter(s string) (Filter, error) {
	if strings.EqualFold(strings.TrimSpace(s), string(FilterAll)) {
		return FilterAll, nil
	}
	t, err := ParseEventType(s)
	if err != nil {
		return "", err
	}
	return Filter(t), nil
}

// DateLayout is the calendar date format used by Event.Date.
const DateLayout = "2006-01-02"

// Event is a single event posting.
// It is provider-independent; records.DecodeEvent builds it from a stored document.
type Event struct {
	ID           string
	Title        string
	Type         EventType
	Location     string
	Date         string // YYYY-MM-DD, no time zone
	Timing       string // free text, e.g. "10:00 - 16:00"
	Organization string // display only, not tied to the organizer identity
	Link         string
	Description  string
	OrganizerID  string // owner email, immutable after creation
	CreatedAt    string
	UpdatedAt    string
	Timestamp    time.Time // server-assigned ordering time
}

// Day parses Date as a calendar day in UTC.
func (e Event) Day() (time.Time, bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(e.Date))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EventInput holds the editable fields of the event form.
type EventInput struct {
	Title        string    `json:"title" validate:"required"`
	Type         EventType `json:"type" validate:"required"`
	Location     string    `json:"location" validate:"required"`
	Date         string    `json:"date" validate:"required"`
	Timing       string    `json:"timing" validate:"required"`
	Organization string    `json:"organization" validate:"required"`
	Link         string    `json:"link"`
	Description  string    `json:"description" validate:"required"`
}

// InputFromEvent copies the editable fields of ev.
func InputFromEvent(ev Event) EventInput {
	return EventInput{
		Title:        ev.Title,
		Type:         ev.Type,
		Location:     ev.Location,
		Date:         ev.Date,
		Timing:       ev.Timing,
		Organization: ev.Organization,
		Link:         ev.Link,
		Description:  ev.Description,
	}
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (in EventInput) Trimmed() EventInput {
	return EventInput{
		Title:        strings.TrimSpace(in.Title),
		Type:         EventType(strings.TrimSpace(string(in.Type))),
		Location:     strings.TrimSpace(in.Location),
		Date:         strings.TrimSpace(in.Date),
		Timing:       strings.TrimSpace(in.Timing),
		Organization: strings.TrimSpace(in.Organization),
		Link:         strings.TrimSpace(in.Link),
		Description:  strings.TrimSpace(in.Description),
	}
}

// EventFields names the form fields in display order.
var EventFields = []string{"title", "type", "location", "date", "timing", "organization", "link", "description"}

// Set assigns value to the named form field. Type and date are checked on assignment.
func (in *EventInput) Set(field, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(field) {
	case "title":
		in.Title = value
	case "type":
		t, err := ParseEventType(value)
		if err != nil {
			return err
		}
		in.Type = t
	case "location":
		in.Location = value
	case "date":
		if value != "" {
			if _, err := time.Parse(DateLayout, value); err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidDate, value)
			}
		}
		in.Date = value
	case "timing":
		in.Timing = value
	case "organization", "org":
		in.Organization = value
	case "link":
		in.Link = value
	case "description", "desc":
		in.Description = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Get returns the value of the named form field.
func (in EventInput) Get(field string) string {
	switch strings.ToLower(field) {
	case "title":
		return in.Title
	case "type":
		return string(in.Type)
	case "location":
		return in.Location
	case "date":
		return in.Date
	case "timing":
		return in.Timing
	case "organization", "org":
		return in.Organization
	case "link":
		return in.Link
	case "description", "desc":
		return in.Description
	}
	return ""
}
