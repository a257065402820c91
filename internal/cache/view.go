package cache

import "eventhub/internal/models"

// View is a projection of the cache ready for rendering.
type View struct {
	Events []models.Event
	Count  int
	Empty  bool
}

func newView(events []models.Event) View {
	return View{Events: events, Count: len(events), Empty: len(events) == 0}
}

// StudentView keeps the events of the selected type, or every event for FilterAll.
func StudentView(events []models.Event, filter models.Filter) View {
	if filter == "" || filter == models.FilterAll {
		all := make([]models.Event, len(events))
		copy(all, events)
		return newView(all)
	}
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.Type == models.EventType(filter) {
			out = append(out, ev)
		}
	}
	return newView(out)
}

// OrganizerView keeps the events whose owner is email.
func OrganizerView(events []models.Event, email string) View {
	out := make([]models.Event, 0)
	if email == "" {
		return newView(out)
	}
	for _, ev := range events {
		if ev.OrganizerID == email {
			out = append(out, ev)
		}
	}
	return newView(out)
}
