package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"eventhub/internal/form"
	"eventhub/internal/models"
	"eventhub/internal/provider"
	"eventhub/internal/session"
)

type countingProvider struct {
	*provider.Memory
	deletes int
	err     error
}

func (p *countingProvider) Delete(ctx context.Context, collection, id string) error {
	p.deletes++
	if p.err != nil {
		return p.err
	}
	return p.Memory.Delete(ctx, collection, id)
}

type brokenProvider struct {
	provider.Provider
}

func (brokenProvider) Subscribe(context.Context, string) (provider.Subscription, error) {
	return nil, errors.New("unreachable")
}

func startApp(t *testing.T, p provider.Provider) *App {
	t.Helper()
	a := New(slog.New(slog.NewTextHandler(io.Discard, nil)), p, Options{AppID: "test", Scheme: session.SchemePlain})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	select {
	case <-a.Synced():
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial snapshot")
	}
	return a
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func signUpOrganizer(t *testing.T, a *App, email, org string) models.User {
	t.Helper()
	u, err := a.SignUp(context.Background(), models.SignUpForm{
		Role: models.RoleOrganizer, Email: email, Password: "pw", Phone: "1", Organization: org,
	})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return u
}

func postHackathon(t *testing.T, a *App, title string) string {
	t.Helper()
	for field, value := range map[string]string{
		"title": title, "type": "Hackathon", "location": "Paris", "date": "2025-03-01",
		"timing": "10-18", "description": "d",
	} {
		if err := a.SetField(field, value); err != nil {
			t.Fatalf("set %s: %v", field, err)
		}
	}
	out, err := a.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	eventually(t, func() bool { _, ok := a.Event(out.EventID); return ok })
	return out.EventID
}

func TestStartFailureIsInitFailed(t *testing.T) {
	a := New(slog.New(slog.NewTextHandler(io.Discard, nil)), brokenProvider{}, Options{AppID: "test"})
	if err := a.Start(context.Background()); !errors.Is(err, models.ErrInitFailed) {
		t.Fatalf("expected ErrInitFailed, got %v", err)
	}
	if NoticeFor(models.ErrInitFailed).Title != "Error" {
		t.Fatalf("expected an error notice")
	}
}

func TestOrganizerPostsAndStudentSeesIt(t *testing.T) {
	ctx := context.Background()
	a := startApp(t, provider.NewMemory())

	signUpOrganizer(t, a, "a@x.com", "ACME")
	if got := a.Form().Values.Organization; got != "ACME" {
		t.Fatalf("form should default organization to ACME, got %q", got)
	}
	id := postHackathon(t, a, "Hack1")

	v := a.Views()
	if v.Mine.Count != 1 || v.Mine.Events[0].ID != id {
		t.Fatalf("expected the event in my events, got %+v", v.Mine)
	}
	a.SignOut()
	if v := a.Views(); v.Mine.Count != 0 || v.Student.Count != 1 {
		t.Fatalf("unexpected views after sign out %+v", v)
	}

	if _, err := a.SignUp(ctx, models.SignUpForm{
		Role: models.RoleStudent, Email: "s@x.com", Password: "pw", Phone: "2",
		Name: "Sam", Age: "20", Gender: "f",
	}); err != nil {
		t.Fatalf("student sign up: %v", err)
	}
	a.SetFilter(models.Filter(models.TypeHackathon))
	if v := a.Views(); v.Student.Count != 1 || v.Student.Events[0].Title != "Hack1" {
		t.Fatalf("student should see Hack1, got %+v", v.Student)
	}
	a.SetFilter(models.Filter(models.TypeSeminar))
	if v := a.Views(); !v.Student.Empty {
		t.Fatalf("seminar view should be empty")
	}
	if _, err := a.Submit(ctx); !errors.Is(err, models.ErrNotOrganizer) {
		t.Fatalf("student submit should be refused, got %v", err)
	}
}

func TestForgedEditAndDeleteAreRefused(t *testing.T) {
	ctx := context.Background()
	mem := &countingProvider{Memory: provider.NewMemory()}
	a := startApp(t, mem)

	signUpOrganizer(t, a, "a@x.com", "ACME")
	id := postHackathon(t, a, "Hack1")

	signUpOrganizer(t, a, "b@x.com", "Initech")
	if err := a.BeginEdit(id); !errors.Is(err, models.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	asked := false
	ok, err := a.Delete(ctx, id, ConfirmFunc(func(models.Event, Notice) bool { asked = true; return true }))
	if ok || !errors.Is(err, models.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v %v", ok, err)
	}
	if asked || mem.deletes != 0 {
		t.Fatalf("refused delete must not prompt or reach the provider")
	}
	if a.Views().Mine.Count != 0 {
		t.Fatalf("b@x.com owns nothing")
	}
}

func TestUpdateKeepsOwnerAndCreationTime(t *testing.T) {
	ctx := context.Background()
	a := startApp(t, provider.NewMemory())
	signUpOrganizer(t, a, "a@x.com", "ACME")
	id := postHackathon(t, a, "Hack1")
	before, _ := a.Event(id)

	if err := a.BeginEdit(id); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	if st := a.Form(); st.Mode != form.ModeEditing || st.EventID != id {
		t.Fatalf("unexpected form state %+v", st)
	}
	if err := a.SetField("location", "Lyon"); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := a.Submit(ctx)
	if err != nil || out.Result != form.Updated {
		t.Fatalf("unexpected submit result %+v %v", out, err)
	}
	if SavedNotice(out).Message != "Event updated successfully!" {
		t.Fatalf("unexpected notice %v", SavedNotice(out))
	}
	eventually(t, func() bool { ev, _ := a.Event(id); return ev.Location == "Lyon" })
	after, _ := a.Event(id)
	if after.OrganizerID != before.OrganizerID || after.CreatedAt != before.CreatedAt || after.Title != "Hack1" {
		t.Fatalf("unexpected updated event %+v", after)
	}
}

func TestDeleteConfirmation(t *testing.T) {
	ctx := context.Background()
	mem := &countingProvider{Memory: provider.NewMemory()}
	a := startApp(t, mem)
	signUpOrganizer(t, a, "a@x.com", "ACME")
	id := postHackathon(t, a, "Hack1")

	decline := ConfirmFunc(func(_ models.Event, prompt Notice) bool {
		if prompt != DeletePrompt {
			t.Errorf("unexpected prompt %v", prompt)
		}
		return false
	})
	if ok, err := a.Delete(ctx, id, decline); ok || err != nil {
		t.Fatalf("declined delete should be a no-op, got %v %v", ok, err)
	}
	if mem.deletes != 0 {
		t.Fatalf("declined delete reached the provider")
	}

	mem.err = errors.New("unavailable")
	accept := ConfirmFunc(func(models.Event, Notice) bool { return true })
	if _, err := a.Delete(ctx, id, accept); !errors.Is(err, models.ErrDeleteFailed) {
		t.Fatalf("expected ErrDeleteFailed, got %v", err)
	}
	if n := NoticeFor(fmt.Errorf("wrapped: %w", models.ErrDeleteFailed)); n.Message != "Failed to delete event." {
		t.Fatalf("unexpected notice %v", n)
	}

	mem.err = nil
	if ok, err := a.Delete(ctx, id, accept); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	eventually(t, func() bool { return a.Views().Mine.Empty })
	if _, err := a.Delete(ctx, id, accept); !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestRenderHookSeesSessionChanges(t *testing.T) {
	renders := make(chan Views, 64)
	a := New(slog.New(slog.NewTextHandler(io.Discard, nil)), provider.NewMemory(), Options{
		AppID:    "test",
		OnRender: func(v Views) { renders <- v },
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()
	<-a.Synced()
	signUpOrganizer(t, a, "a@x.com", "ACME")
	a.SignOut()
	if len(renders) < 2 {
		t.Fatalf("expected a render per session change, got %d", len(renders))
	}
}

func TestNoticeForMissingFields(t *testing.T) {
	event := &models.MissingFieldsError{Fields: []string{"title"}}
	if n := NoticeFor(event); n.Message != "Please fill in all required event details." {
		t.Fatalf("unexpected notice %v", n)
	}
	signup := &models.MissingFieldsError{Fields: []string{"age"}}
	if n := NoticeFor(signup); n.Message != "Please fill in all required fields." {
		t.Fatalf("unexpected notice %v", n)
	}
	if n := NoticeFor(errors.New("boom")); n.Title != "Error" {
		t.Fatalf("unexpected notice %v", n)
	}
}
