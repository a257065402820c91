// Package form implements the single event form that either posts a new event or
// edits one the signed-in organizer owns.
package form

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventhub/internal/authz"
	"eventhub/internal/models"
	"eventhub/internal/provider"
	"eventhub/internal/records"
)

// Mode is the form state.
type Mode int

const (
	ModeCreate Mode = iota
	ModeEditing
)

func (m Mode) String() string {
	if m == ModeEditing {
		return "editing"
	}
	return "create"
}

// Result tells the caller what a successful submit did.
type Result string

const (
	Created Result = "created"
	Updated Result = "updated"
)

// Outcome describes a successful submit.
type Outcome struct {
	Result  Result
	EventID string
}

// Lookup resolves the current version of an event, normally from the event cache.
type Lookup interface {
	Event(id string) (models.Event, bool)
}

// State is a copy of the form for rendering.
type State struct {
	Mode    Mode
	EventID string
	Heading string
	Values  models.EventInput
}

// Controller owns the form. The zero mode is ModeCreate.
type Controller struct {
	logger     *slog.Logger
	provider   provider.Provider
	eventsPath string
	lookup     Lookup
	now        func() time.Time

	mu        sync.Mutex
	mode      Mode
	eventID   string
	editTitle string
	values    models.EventInput
	// gen counts changes to mode, event and values.
	gen uint64
}

// New returns a controller in create mode with no session defaults.
func New(logger *slog.Logger, p provider.Provider, eventsPath string, lookup Lookup) *Controller {
	c := &Controller{
		logger:     logger,
		provider:   p,
		eventsPath: eventsPath,
		lookup:     lookup,
		now:        func() time.Time { return time.Now().UTC() },
	}
	c.resetLocked(nil)
	return c
}

// Reset returns to create mode with default values. The organization field is
// pre-filled from user.
func (c *Controller) Reset(user *models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(user)
}

// Cancel abandons an edit.
func (c *Controller) Cancel(user *models.User) { c.Reset(user) }

func (c *Controller) resetLocked(user *models.User) {
	c.gen++
	c.mode = ModeCreate
	c.eventID = ""
	c.editTitle = ""
	c.values = models.EventInput{Type: models.EventTypes[0]}
	if user != nil {
		c.values.Organization = user.DefaultOrganization()
	}
}

// BeginEdit loads event id into the form. Only its owner may edit it.
func (c *Controller) BeginEdit(user *models.User, id string) error {
	ev, ok := c.lookup.Event(id)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrEventNotFound, id)
	}
	if err := authz.RequireOwner(user, ev); err != nil {
		return err
	}

	values := models.InputFromEvent(ev)
	if values.Type == "" {
		values.Type = models.EventTypes[0]
	}
	if values.Organization == "" {
		values.Organization = user.DefaultOrganization()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.mode = ModeEditing
	c.eventID = id
	c.editTitle = ev.Title
	c.values = values
	return nil
}

// Set changes one field of the form.
func (c *Controller) Set(field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.values.Set(field, value); err != nil {
		return err
	}
	c.gen++
	return nil
}

// State returns a copy of the form.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	heading := "Post New Event"
	if c.mode == ModeEditing {
		heading = "Editing Event: " + c.editTitle
	}
	return State{Mode: c.mode, EventID: c.eventID, Heading: heading, Values: c.values}
}

// Submit posts or updates the event. Validation and authorization failures leave the
// form untouched, as do provider failures, which are reported as models.ErrSaveFailed.
// The form stays usable while the write is in flight. On success it returns to create
// mode unless it was changed in the meantime.
func (c *Controller) Submit(ctx context.Context, user *models.User) (Outcome, error) {
	if err := authz.RequireOrganizer(user); err != nil {
		return Outcome{}, err
	}

	c.mu.Lock()
	mode, eventID, gen := c.mode, c.eventID, c.gen
	in := c.values.Trimmed()
	c.mu.Unlock()

	if err := models.Validate(in); err != nil {
		return Outcome{}, err
	}
	if _, err := models.ParseEventType(string(in.Type)); err != nil {
		return Outcome{}, err
	}
	now := c.now().Format(time.RFC3339Nano)

	var out Outcome
	if mode == ModeEditing {
		ev, ok := c.lookup.Event(eventID)
		if !ok {
			return Outcome{}, fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
		}
		if err := authz.RequireOwner(user, ev); err != nil {
			return Outcome{}, err
		}
		if err := c.provider.UpsertMerge(ctx, c.eventsPath, eventID, records.EventUpdateFields(in, now)); err != nil {
			c.logger.Error("Failed to update event", "id", eventID, "error", err)
			return Outcome{}, fmt.Errorf("%w: %w", models.ErrSaveFailed, err)
		}
		c.logger.Info("Event updated", "id", eventID, "title", in.Title)
		out = Outcome{Result: Updated, EventID: eventID}
	} else {
		id, err := c.provider.Insert(ctx, c.eventsPath, records.NewEventFields(in, user.Email, now))
		if err != nil {
			c.logger.Error("Failed to post event", "title", in.Title, "error", err)
			return Outcome{}, fmt.Errorf("%w: %w", models.ErrSaveFailed, err)
		}
		c.logger.Info("Event posted", "id", id, "title", in.Title, "organizer", user.Email)
		out = Outcome{Result: Created, EventID: id}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.resetLocked(user)
	}
	return out, nil
}
