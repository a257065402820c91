package form

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"eventhub/internal/cache"
	"eventhub/internal/models"
	"eventhub/internal/provider"
	"eventhub/internal/records"
)

const eventsPath = "artifacts/test/public/data/events"

var (
	organizerA = &models.User{ID: "u1", Role: models.RoleOrganizer, Email: "a@x.com", Organization: "ACME"}
	organizerB = &models.User{ID: "u2", Role: models.RoleOrganizer, Email: "b@x.com", Organization: "Initech"}
	student    = &models.User{ID: "u3", Role: models.RoleStudent, Email: "s@x.com", Name: "Sam"}
)

type failingProvider struct {
	provider.Provider
	err error
}

func (p failingProvider) Insert(context.Context, string, provider.Fields) (string, error) {
	return "", p.err
}

func (p failingProvider) UpsertMerge(context.Context, string, string, provider.Fields) error {
	return p.err
}

func newController(p provider.Provider, lookup Lookup) *Controller {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), p, eventsPath, lookup)
	c.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func hackathon() models.EventInput {
	return models.EventInput{
		Title: "Hack1", Type: models.TypeHackathon, Location: "Paris", Date: "2025-03-01",
		Timing: "10-18", Organization: "ACME", Description: "d",
	}
}

// fill types every field of in into the form.
func fill(t *testing.T, c *Controller, in models.EventInput) {
	t.Helper()
	for _, field := range models.EventFields {
		if err := c.Set(field, in.Get(field)); err != nil {
			t.Fatalf("set %s: %v", field, err)
		}
	}
}

// blockingProvider holds every Insert until release is closed.
type blockingProvider struct {
	*provider.Memory
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Insert(ctx context.Context, collection string, fields provider.Fields) (string, error) {
	close(p.started)
	<-p.release
	return p.Memory.Insert(ctx, collection, fields)
}

// loadCache copies the collection into a cache as a snapshot would.
func loadCache(t *testing.T, mem *provider.Memory, c *cache.Cache) {
	t.Helper()
	docs, err := mem.Query(context.Background(), eventsPath)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	c.Replace(records.DecodeEvents(docs))
}

func TestSubmitCreatesEventOwnedBySession(t *testing.T) {
	ctx := context.Background()
	mem := provider.NewMemory()
	c := newController(mem, cache.New())
	c.Reset(organizerA)
	if got := c.State().Values.Organization; got != "ACME" {
		t.Fatalf("expected organization default ACME, got %q", got)
	}
	fill(t, c, hackathon())

	out, err := c.Submit(ctx, organizerA)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Result != Created || out.EventID == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	docs, _ := mem.Query(ctx, eventsPath)
	if len(docs) != 1 {
		t.Fatalf("expected one event, got %d", len(docs))
	}
	ev := records.DecodeEvent(docs[0])
	if ev.OrganizerID != "a@x.com" || ev.CreatedAt == "" || ev.Timestamp.IsZero() {
		t.Fatalf("unexpected stored event %+v", ev)
	}
	st := c.State()
	if st.Mode != ModeCreate || st.Values.Title != "" || st.Values.Type != models.EventTypes[0] {
		t.Fatalf("form should reset after submit, got %+v", st)
	}
}

func TestSubmitRejectsNonOrganizer(t *testing.T) {
	mem := provider.NewMemory()
	c := newController(mem, cache.New())
	fill(t, c, hackathon())
	if _, err := c.Submit(context.Background(), student); !errors.Is(err, models.ErrNotOrganizer) {
		t.Fatalf("expected ErrNotOrganizer, got %v", err)
	}
	if _, err := c.Submit(context.Background(), nil); !errors.Is(err, models.ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
	if docs, _ := mem.Query(context.Background(), eventsPath); len(docs) != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestSubmitMissingFieldsKeepsForm(t *testing.T) {
	mem := provider.NewMemory()
	c := newController(mem, cache.New())
	in := hackathon()
	in.Description = "  "
	fill(t, c, in)

	_, err := c.Submit(context.Background(), organizerA)
	var missing *models.MissingFieldsError
	if !errors.As(err, &missing) || len(missing.Fields) != 1 || missing.Fields[0] != "description" {
		t.Fatalf("expected missing description, got %v", err)
	}
	if got := c.State().Values; got.Title != "Hack1" || got.Location != "Paris" {
		t.Fatalf("form values must survive a failed submit, got %+v", got)
	}
}

func TestSubmitProviderFailureKeepsForm(t *testing.T) {
	c := newController(failingProvider{Provider: provider.NewMemory(), err: errors.New("unavailable")}, cache.New())
	fill(t, c, hackathon())
	if _, err := c.Submit(context.Background(), organizerA); !errors.Is(err, models.ErrSaveFailed) {
		t.Fatalf("expected ErrSaveFailed, got %v", err)
	}
	if c.State().Values.Title != "Hack1" {
		t.Fatalf("form values must survive a save failure")
	}
}

func TestEditUpdatesOwnEventOnly(t *testing.T) {
	ctx := context.Background()
	mem := provider.NewMemory()
	events := cache.New()
	c := newController(mem, events)
	fill(t, c, hackathon())
	out, err := c.Submit(ctx, organizerA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	loadCache(t, mem, events)
	before, _ := events.Event(out.EventID)

	if err := c.BeginEdit(organizerB, out.EventID); !errors.Is(err, models.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for another organizer, got %v", err)
	}
	if c.State().Mode != ModeCreate {
		t.Fatalf("refused edit must not enter editing mode")
	}

	if err := c.BeginEdit(organizerA, out.EventID); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	st := c.State()
	if st.Mode != ModeEditing || st.Heading != "Editing Event: Hack1" || st.Values.Location != "Paris" {
		t.Fatalf("unexpected editing state %+v", st)
	}
	if err := c.Set("title", "Hack1 v2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	res, err := c.Submit(ctx, organizerA)
	if err != nil || res.Result != Updated || res.EventID != out.EventID {
		t.Fatalf("unexpected update outcome %+v %v", res, err)
	}

	loadCache(t, mem, events)
	after, _ := events.Event(out.EventID)
	if after.Title != "Hack1 v2" {
		t.Fatalf("expected updated title, got %q", after.Title)
	}
	if after.OrganizerID != before.OrganizerID || after.CreatedAt != before.CreatedAt {
		t.Fatalf("edit must keep owner and creation time: before %+v after %+v", before, after)
	}
	if c.State().Mode != ModeCreate {
		t.Fatalf("form should return to create mode")
	}
}

func TestSubmitEditRechecksOwnership(t *testing.T) {
	ctx := context.Background()
	mem := provider.NewMemory()
	events := cache.New()
	c := newController(mem, events)
	fill(t, c, hackathon())
	out, err := c.Submit(ctx, organizerA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	loadCache(t, mem, events)
	if err := c.BeginEdit(organizerA, out.EventID); err != nil {
		t.Fatalf("begin edit: %v", err)
	}

	if _, err := c.Submit(ctx, organizerB); !errors.Is(err, models.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if err := mem.Delete(ctx, eventsPath, out.EventID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loadCache(t, mem, events)
	if _, err := c.Submit(ctx, organizerA); !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if docs, _ := mem.Query(ctx, eventsPath); len(docs) != 0 {
		t.Fatalf("editing a deleted event must not recreate it")
	}
}

func TestCancelRestoresDefaults(t *testing.T) {
	ctx := context.Background()
	mem := provider.NewMemory()
	events := cache.New()
	c := newController(mem, events)
	fill(t, c, hackathon())
	out, _ := c.Submit(ctx, organizerA)
	loadCache(t, mem, events)
	if err := c.BeginEdit(organizerA, out.EventID); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	c.Cancel(organizerA)
	st := c.State()
	if st.Mode != ModeCreate || st.EventID != "" || st.Heading != "Post New Event" {
		t.Fatalf("unexpected state after cancel %+v", st)
	}
	if st.Values.Organization != "ACME" || st.Values.Type != models.TypeHackathon || st.Values.Title != "" {
		t.Fatalf("unexpected defaults after cancel %+v", st.Values)
	}
	if err := c.BeginEdit(organizerA, "missing"); !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestFormUsableWhileSubmitting(t *testing.T) {
	p := &blockingProvider{Memory: provider.NewMemory(), started: make(chan struct{}), release: make(chan struct{})}
	c := newController(p, cache.New())
	fill(t, c, hackathon())

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.Submit(context.Background(), organizerA)
		done <- result{out, err}
	}()
	<-p.started

	states := make(chan State, 1)
	go func() { states <- c.State() }()
	select {
	case st := <-states:
		if st.Values.Title != "Hack1" {
			t.Fatalf("unexpected state during submit %+v", st)
		}
	case <-time.After(time.Second):
		close(p.release)
		t.Fatalf("State blocked while the insert was in flight")
	}
	close(p.release)

	res := <-done
	if res.err != nil || res.out.Result != Created {
		t.Fatalf("unexpected submit result %+v %v", res.out, res.err)
	}
	if c.State().Values.Title != "" {
		t.Fatalf("untouched form should reset after submit")
	}
}

func TestSubmitKeepsChangesMadeDuringWrite(t *testing.T) {
	p := &blockingProvider{Memory: provider.NewMemory(), started: make(chan struct{}), release: make(chan struct{})}
	c := newController(p, cache.New())
	fill(t, c, hackathon())

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), organizerA)
		done <- err
	}()
	<-p.started
	if err := c.Set("title", "Next one"); err != nil {
		t.Fatalf("set: %v", err)
	}
	close(p.release)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := c.State().Values.Title; got != "Next one" {
		t.Fatalf("edits made during the write must survive, got %q", got)
	}
}

func TestUnchangedEditAdvancesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	mem := provider.NewMemory()
	events := cache.New()
	c := newController(mem, events)
	clock := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return clock }

	fill(t, c, hackathon())
	out, err := c.Submit(ctx, organizerA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	loadCache(t, mem, events)
	before, _ := events.Event(out.EventID)

	clock = clock.Add(time.Hour)
	if err := c.BeginEdit(organizerA, out.EventID); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	if _, err := c.Submit(ctx, organizerA); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	loadCache(t, mem, events)
	after, _ := events.Event(out.EventID)

	if after.OrganizerID != before.OrganizerID || after.CreatedAt != before.CreatedAt {
		t.Fatalf("owner and creation time must not change: before %+v after %+v", before, after)
	}
	if models.InputFromEvent(after) != models.InputFromEvent(before) {
		t.Fatalf("content changed on an unchanged edit: %+v", after)
	}
	b, err1 := time.Parse(time.RFC3339Nano, before.UpdatedAt)
	a, err2 := time.Parse(time.RFC3339Nano, after.UpdatedAt)
	if err1 != nil || err2 != nil || !a.After(b) {
		t.Fatalf("updatedAt must advance: before %q after %q", before.UpdatedAt, after.UpdatedAt)
	}
}
