package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/firestore/v1"
	"google.golang.org/api/option"

	"eventhub/internal/provider"
)

func TestSplitCollection(t *testing.T) {
	root := "projects/p/databases/(default)/documents"
	cases := map[string][2]string{
		"users":                            {root, "users"},
		"artifacts/a/public/data/events":   {root + "/artifacts/a/public/data", "events"},
		"/artifacts/a/users/global/users/": {root + "/artifacts/a/users/global", "users"},
	}
	for in, want := range cases {
		parent, id := splitCollection(root, in)
		if parent != want[0] || id != want[1] {
			t.Fatalf("splitCollection(%q) = %q, %q", in, parent, id)
		}
	}
	if got := uniqueCollection("artifacts/a/users/global/users", "email"); got != "artifacts/a/users/global/users_unique_email" {
		t.Fatalf("unexpected unique collection %q", got)
	}
}

func TestEncodeFieldsMovesServerTimestampToTransforms(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	values, paths, transforms := encodeFields(provider.Fields{
		"title": "Hack1",
		"ts":    provider.ServerTimestamp,
		"when":  at,
	})
	if len(paths) != 2 || paths[0] != "title" || paths[1] != "when" {
		t.Fatalf("unexpected mask %v", paths)
	}
	if len(transforms) != 1 || transforms[0].FieldPath != "ts" || transforms[0].SetToServerValue != "REQUEST_TIME" {
		t.Fatalf("unexpected transforms %+v", transforms)
	}
	if _, ok := values["ts"]; ok {
		t.Fatalf("server timestamp must not be sent as a value")
	}
	if got, _ := decodeValue(values["title"]); got != "Hack1" {
		t.Fatalf("unexpected title %v", got)
	}
	if got, _ := decodeValue(values["when"]); !got.(time.Time).Equal(at) {
		t.Fatalf("unexpected time %v", got)
	}
	if _, ok := decodeValue(firestore.Value{NullValue: "NULL_VALUE"}); ok {
		t.Fatalf("null values should be dropped")
	}
}

// fakeServer answers list and commit calls for one collection.
type fakeServer struct {
	mu      sync.Mutex
	docs    []map[string]any
	commits []firestore.CommitRequest
	bodies  []string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":commit"):
		body, _ := io.ReadAll(r.Body)
		var req firestore.CommitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.commits = append(s.commits, req)
		s.bodies = append(s.bodies, string(body))
		io.WriteString(w, `{"commitTime":"2025-01-02T03:04:05Z"}`)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/events"):
		json.NewEncoder(w).Encode(map[string]any{"documents": s.docs})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestFirestore(t *testing.T, srv *fakeServer) *Firestore {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f, err := NewFirestore(context.Background(), logger, FirestoreOptions{ProjectID: "p", PollInterval: time.Hour},
		option.WithEndpoint(ts.URL+"/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new firestore: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFirestoreQueryFiltersListedDocuments(t *testing.T) {
	srv := &fakeServer{docs: []map[string]any{
		{
			"name":       "projects/p/databases/(default)/documents/artifacts/a/public/data/events/e1",
			"fields":     map[string]any{"title": map[string]any{"stringValue": "Hack1"}, "type": map[string]any{"stringValue": "Hackathon"}},
			"updateTime": "2025-01-01T00:00:00Z",
		},
		{
			"name":       "projects/p/databases/(default)/documents/artifacts/a/public/data/events/e2",
			"fields":     map[string]any{"title": map[string]any{"stringValue": "Talk"}, "type": map[string]any{"stringValue": "Seminar"}},
			"updateTime": "2025-01-01T00:00:00Z",
		},
	}}
	f := newTestFirestore(t, srv)

	docs, err := f.Query(context.Background(), "artifacts/a/public/data/events", provider.Eq("type", "Seminar"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "e2" || docs[0].Fields.String("title") != "Talk" {
		t.Fatalf("unexpected documents %+v", docs)
	}

	sub, err := f.Subscribe(context.Background(), "artifacts/a/public/data/events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	select {
	case snap := <-sub.Snapshots():
		if len(snap.Docs) != 2 {
			t.Fatalf("expected two documents in the first snapshot, got %d", len(snap.Docs))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial snapshot")
	}
}

func TestFirestoreWritesUseCommit(t *testing.T) {
	srv := &fakeServer{}
	f := newTestFirestore(t, srv)
	f.newID = func() string { return "fixed" }
	ctx := context.Background()
	coll := "artifacts/a/public/data/events"

	id, err := f.Insert(ctx, coll, provider.Fields{"title": "Hack1", "ts": provider.ServerTimestamp})
	if err != nil || id != "fixed" {
		t.Fatalf("insert: %q %v", id, err)
	}
	if err := f.UpsertMerge(ctx, coll, "fixed", provider.Fields{"title": "Hack2"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.commits) != 2 {
		t.Fatalf("expected two commits, got %d", len(srv.commits))
	}
	create := srv.commits[0].Writes[0]
	if !strings.HasSuffix(create.Update.Name, "/artifacts/a/public/data/events/fixed") {
		t.Fatalf("unexpected document name %q", create.Update.Name)
	}
	if create.CurrentDocument == nil || create.CurrentDocument.Exists {
		t.Fatalf("insert must require a missing document")
	}
	if len(create.UpdateTransforms) != 1 || create.UpdateTransforms[0].FieldPath != "ts" {
		t.Fatalf("expected a server timestamp transform, got %+v", create.UpdateTransforms)
	}
	merge := srv.commits[1].Writes[0]
	if merge.UpdateMask == nil || len(merge.UpdateMask.FieldPaths) != 1 || merge.UpdateMask.FieldPaths[0] != "title" {
		t.Fatalf("merge must only touch the given fields, got %+v", merge.UpdateMask)
	}
}

func TestFirestoreSendsEmptyStrings(t *testing.T) {
	srv := &fakeServer{}
	f := newTestFirestore(t, srv)
	coll := "artifacts/a/public/data/events"

	if _, err := f.Insert(context.Background(), coll, provider.Fields{"title": "Hack1", "link": ""}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.bodies) != 1 {
		t.Fatalf("expected one commit, got %d", len(srv.bodies))
	}
	if !strings.Contains(srv.bodies[0], `"link":{"stringValue":""}`) {
		t.Fatalf("empty link must be sent as a string value, got %s", srv.bodies[0])
	}
	got, ok := decodeValue(srv.commits[0].Writes[0].Update.Fields["link"])
	if !ok || got != "" {
		t.Fatalf("expected the empty link to decode as \"\", got %v %v", got, ok)
	}
}

func TestConflictDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":{"code":409,"message":"Document already exists","status":"ALREADY_EXISTS"}}`)
	}))
	defer srv.Close()
	f, err := NewFirestore(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		FirestoreOptions{ProjectID: "p"}, option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new firestore: %v", err)
	}
	_, err = f.InsertUnique(context.Background(), "users", "email", "a@x.com", provider.Fields{"email": "a@x.com"})
	if !errors.Is(err, provider.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
