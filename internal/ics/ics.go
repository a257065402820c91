// Package ics renders events as an iCalendar feed.
package ics

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"eventhub/internal/models"
)

// ProductID identifies calendars produced by this package.
const ProductID = "-//eventhub//EN"

// UID is the stable iCalendar UID of an event.
func UID(ev models.Event) string {
	return ev.ID + "@eventhub"
}

// Component converts an event into an all-day VEVENT. Events without a valid date
// cannot be placed on a calendar and yield false.
func Component(ev models.Event, stamp time.Time) (*ical.Component, bool) {
	day, ok := ev.Day()
	if !ok {
		return nil, false
	}
	if !ev.Timestamp.IsZero() {
		stamp = ev.Timestamp
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, UID(ev))
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDate(ical.PropDateTimeStart, day)
	ve.Props.SetDate(ical.PropDateTimeEnd, day.AddDate(0, 0, 1))
	if ev.Type != "" {
		ve.Props.SetText(ical.PropCategories, string(ev.Type))
	}
	if desc := description(ev); desc != "" {
		ve.Props.SetText(ical.PropDescription, desc)
	}
	if ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, ev.Location)
	}
	if u, err := url.Parse(ev.Link); err == nil && u.Scheme != "" && u.Host != "" {
		ve.Props.SetURI(ical.PropURL, u)
	}
	if ev.OrganizerID != "" {
		p := ical.NewProp(ical.PropOrganizer)
		p.SetText(fmt.Sprintf("mailto:%s", ev.OrganizerID))
		if ev.Organization != "" {
			p.Params.Set(ical.ParamCommonName, ev.Organization)
		}
		ve.Props.Add(p)
	}
	return ve, true
}

func description(ev models.Event) string {
	var parts []string
	if ev.Timing != "" {
		parts = append(parts, "Timing: "+ev.Timing)
	}
	if ev.Organization != "" {
		parts = append(parts, "Organization: "+ev.Organization)
	}
	if ev.Description != "" {
		parts = append(parts, ev.Description)
	}
	return strings.Join(parts, "\n")
}

// NewCalendar wraps components in a VCALENDAR.
func NewCalendar(name string, children ...*ical.Component) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	if name != "" {
		cal.Props.SetText("X-WR-CALNAME", name)
	}
	cal.Children = append(cal.Children, children...)
	return cal
}

// ErrNoEvents is returned by Encode when no event has a usable date. A VCALENDAR
// needs at least one component.
var ErrNoEvents = errors.New("no events to encode")

// Encode writes events as one calendar named name and returns how many were written.
// Nothing is written when it returns ErrNoEvents.
func Encode(w io.Writer, name string, events []models.Event, now time.Time) (int, error) {
	var children []*ical.Component
	for _, ev := range events {
		if c, ok := Component(ev, now); ok {
			children = append(children, c)
		}
	}
	if len(children) == 0 {
		return 0, ErrNoEvents
	}
	if err := ical.NewEncoder(w).Encode(NewCalendar(name, children...)); err != nil {
		return 0, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return len(children), nil
}
