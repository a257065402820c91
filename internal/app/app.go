// Package app ties the session store, event cache, form and provider subscription
// together behind the operations a front end calls.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"eventhub/internal/authz"
	"eventhub/internal/cache"
	"eventhub/internal/form"
	"eventhub/internal/models"
	"eventhub/internal/provider"
	"eventhub/internal/records"
	"eventhub/internal/session"
)

// Views is everything a front end renders from the cache.
type Views struct {
	Generation uint64
	Filter     models.Filter
	Student    cache.View
	// Mine is only populated while an organizer is signed in.
	Mine cache.View
}

// Confirmer asks the user whether an event should be deleted.
type Confirmer interface {
	Confirm(ev models.Event, prompt Notice) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ev models.Event, prompt Notice) bool

func (f ConfirmFunc) Confirm(ev models.Event, prompt Notice) bool { return f(ev, prompt) }

// Options configures an App.
type Options struct {
	AppID  string
	Scheme session.PasswordScheme
	// OnRender is called after every applied snapshot and session change.
	OnRender func(Views)
	// OnError is called once when the event subscription ends with an error.
	OnError func(error)
}

// App is the client core.
type App struct {
	logger     *slog.Logger
	provider   provider.Provider
	eventsPath string
	sessions   *session.Store
	events     *cache.Cache
	form       *form.Controller
	onRender   func(Views)
	onError    func(error)

	mu       sync.Mutex
	filter   models.Filter
	sub      provider.Subscription
	synced   chan struct{}
	syncOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an App over p. Nothing is read until Start.
func New(logger *slog.Logger, p provider.Provider, opts Options) *App {
	events := cache.New()
	eventsPath := provider.EventsPath(opts.AppID)
	return &App{
		logger:     logger,
		provider:   p,
		eventsPath: eventsPath,
		sessions:   session.NewStore(logger, p, provider.UsersPath(opts.AppID), opts.Scheme),
		events:     events,
		form:       form.New(logger, p, eventsPath, events),
		onRender:   opts.OnRender,
		onError:    opts.OnError,
		filter:     models.FilterAll,
		synced:     make(chan struct{}),
	}
}

// Start subscribes to the events collection and applies snapshots until ctx ends or
// Close is called.
func (a *App) Start(ctx context.Context) error {
	sub, err := a.provider.Subscribe(ctx, a.eventsPath)
	if err != nil {
		a.logger.Error("Failed to subscribe to events", "collection", a.eventsPath, "error", err)
		return fmt.Errorf("%w: %w", models.ErrInitFailed, err)
	}
	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for snap := range sub.Snapshots() {
			a.apply(snap)
		}
		if err := sub.Err(); err != nil {
			a.logger.Error("Event subscription ended", "error", err)
			if a.onError != nil {
				a.onError(fmt.Errorf("%w: %w", models.ErrInitFailed, err))
			}
		}
	}()
	return nil
}

func (a *App) apply(snap provider.Snapshot) {
	gen := a.events.Replace(records.DecodeEvents(snap.Docs))
	a.logger.Debug("Applied event snapshot", "events", len(snap.Docs), "generation", gen)
	a.syncOnce.Do(func() { close(a.synced) })
	a.render()
}

// Synced is closed once the first snapshot has been applied.
func (a *App) Synced() <-chan struct{} { return a.synced }

// Close releases the subscription and waits for pending snapshots to be applied.
func (a *App) Close() error {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	a.wg.Wait()
	return err
}

func (a *App) render() {
	if a.onRender != nil {
		a.onRender(a.Views())
	}
}

// Views derives the current views from the cache.
func (a *App) Views() Views {
	a.mu.Lock()
	filter := a.filter
	a.mu.Unlock()

	events, gen := a.events.Snapshot()
	v := Views{
		Generation: gen,
		Filter:     filter,
		Student:    cache.StudentView(events, filter),
	}
	if u, ok := a.sessions.Current(); ok && u.IsOrganizer() {
		v.Mine = cache.OrganizerView(events, u.Email)
	}
	return v
}

// Snapshot returns the cached events and their generation.
func (a *App) Snapshot() ([]models.Event, uint64) { return a.events.Snapshot() }

// Event returns the cached event with id.
func (a *App) Event(id string) (models.Event, bool) { return a.events.Event(id) }

// User returns the signed-in user.
func (a *App) User() (models.User, bool) { return a.sessions.Current() }

func (a *App) user() *models.User {
	u, ok := a.sessions.Current()
	if !ok {
		return nil
	}
	return &u
}

// SetFilter changes the student view filter.
func (a *App) SetFilter(f models.Filter) {
	a.mu.Lock()
	a.filter = f
	a.mu.Unlock()
	a.render()
}

// Filter returns the student view filter.
func (a *App) Filter() models.Filter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filter
}

// SignIn starts a session for role.
func (a *App) SignIn(ctx context.Context, role models.Role, email, password string) (models.User, error) {
	u, err := a.sessions.SignIn(ctx, role, email, password)
	if err != nil {
		return models.User{}, err
	}
	a.sessionChanged()
	return u, nil
}

// SignUp registers a user and signs them in.
func (a *App) SignUp(ctx context.Context, f models.SignUpForm) (models.User, error) {
	u, err := a.sessions.SignUp(ctx, f)
	if err != nil {
		return models.User{}, err
	}
	a.sessionChanged()
	return u, nil
}

// SignOut ends the session.
func (a *App) SignOut() {
	a.sessions.SignOut()
	a.sessionChanged()
}

func (a *App) sessionChanged() {
	a.form.Reset(a.user())
	a.render()
}

// BeginEdit loads a cached event into the form.
func (a *App) BeginEdit(id string) error {
	return a.form.BeginEdit(a.user(), id)
}

// CancelEdit resets the form.
func (a *App) CancelEdit() { a.form.Cancel(a.user()) }

// SetField changes one form field.
func (a *App) SetField(field, value string) error { return a.form.Set(field, value) }

// Form returns the form state.
func (a *App) Form() form.State { return a.form.State() }

// Submit posts or updates the event in the form.
func (a *App) Submit(ctx context.Context) (form.Outcome, error) {
	return a.form.Submit(ctx, a.user())
}

// Delete removes an event the signed-in organizer owns once c confirms. It reports
// false without touching the provider when the user declines.
func (a *App) Delete(ctx context.Context, id string, c Confirmer) (bool, error) {
	ev, ok := a.events.Event(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrEventNotFound, id)
	}
	if err := authz.RequireOwner(a.user(), ev); err != nil {
		return false, err
	}
	if !c.Confirm(ev, DeletePrompt) {
		return false, nil
	}
	if err := a.provider.Delete(ctx, a.eventsPath, id); err != nil {
		a.logger.Error("Failed to delete event", "id", id, "error", err)
		return false, fmt.Errorf("%w: %w", models.ErrDeleteFailed, err)
	}
	a.logger.Info("Event deleted", "id", id, "title", ev.Title)
	return true, nil
}
