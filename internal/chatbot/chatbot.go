// Package chatbot answers a fixed set of help questions about the application.
package chatbot

import "strings"

// Intent is a recognised help topic.
type Intent int

const (
	Unknown Intent = iota
	Hello
	CreateEvent
	SeeEvents
	AccountTypes
	DeleteEvent
	FlowChart
)

// phrases are matched in this order; the first phrase contained in the question wins.
var phrases = []struct {
	phrase string
	intent Intent
}{
	{"hello", Hello},
	{"how to create event", CreateEvent},
	{"how to see events", SeeEvents},
	{"what are the account types", AccountTypes},
	{"how to delete an event", DeleteEvent},
	{"website flow chart", FlowChart},
}

func (i Intent) String() string {
	switch i {
	case Hello:
		return "hello"
	case CreateEvent:
		return "create-event"
	case SeeEvents:
		return "see-events"
	case AccountTypes:
		return "account-types"
	case DeleteEvent:
		return "delete-event"
	case FlowChart:
		return "flow-chart"
	default:
		return "unknown"
	}
}

// Match returns the intent of question, ignoring case and surrounding space.
func Match(question string) Intent {
	clean := strings.ToLower(strings.TrimSpace(question))
	if clean == "" {
		return Unknown
	}
	for _, p := range phrases {
		if strings.Contains(clean, p.phrase) {
			return p.intent
		}
	}
	return Unknown
}

// Reply is the canned answer for an intent.
func Reply(i Intent) string {
	switch i {
	case Hello:
		return "Hello! I'm your Event Finder Assistant. How can I guide you through the website today?"
	case CreateEvent:
		return "Organizers must first sign up or sign in as an 'Organizer'. Then use the form on your dashboard to post a new event: add type, location, and date. It is saved to the shared event store."
	case SeeEvents:
		return "Students sign in as 'Student'. The dashboard loads all events in real-time. Use 'Filter by Type' to narrow down."
	case AccountTypes:
		return "Two types: Student (discover events) and Organizer (post/manage events)."
	case DeleteEvent:
		return "Organizer → Your Posted Events → click Delete on the desired card and confirm."
	case FlowChart:
		return "Flow: Start → Auth (Student/Organizer) → Student Dashboard (browse/filter) OR Organizer Dashboard (post/manage) → Help."
	case Unknown:
		return "Sorry, I didn't understand. Try asking about 'how to see events', 'how to create event', or 'what are the account types'."
	}
	return Reply(Unknown)
}

// Answer matches question and returns the reply.
func Answer(question string) string { return Reply(Match(question)) }

// Greeting is shown when a conversation starts.
func Greeting() string { return Reply(Hello) }
