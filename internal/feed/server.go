// Package feed serves the cached events over a read-only HTTP API.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"eventhub/internal/cache"
	"eventhub/internal/ics"
	"eventhub/internal/models"
)

// Source is the live event cache.
type Source interface {
	Snapshot() ([]models.Event, uint64)
}

type Server struct {
	logger *slog.Logger
	source Source
	now    func() time.Time
}

func NewServer(logger *slog.Logger, source Source) *Server {
	return &Server{logger: logger, source: source, now: time.Now}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, gen := s.source.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "generation": gen})
	})
	r.Get("/events", s.handleListEvents)
	r.Get("/events.ics", s.handleCalendar)
	r.Get("/events/{eventId}", s.handleGetEvent)
	r.Get("/organizers/{email}/events", s.handleOrganizerEvents)
	return r
}

// ListenAndServe serves the router on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Feed server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type eventResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	Location     string `json:"location"`
	Date         string `json:"date"`
	Timing       string `json:"timing"`
	Organization string `json:"organization"`
	Link         string `json:"link,omitempty"`
	Description  string `json:"description"`
	OrganizerID  string `json:"organizerId"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

type viewResponse struct {
	Count  int             `json:"count"`
	Empty  bool            `json:"empty"`
	Events []eventResponse `json:"events"`
}

func toEventResponse(ev models.Event) eventResponse {
	return eventResponse{
		ID:           ev.ID,
		Title:        ev.Title,
		Type:         string(ev.Type),
		Location:     ev.Location,
		Date:         ev.Date,
		Timing:       ev.Timing,
		Organization: ev.Organization,
		Link:         ev.Link,
		Description:  ev.Description,
		OrganizerID:  ev.OrganizerID,
		CreatedAt:    ev.CreatedAt,
		UpdatedAt:    ev.UpdatedAt,
	}
}

func toViewResponse(v cache.View) viewResponse {
	out := viewResponse{Count: v.Count, Empty: v.Empty, Events: make([]eventResponse, 0, len(v.Events))}
	for _, ev := range v.Events {
		out.Events = append(out.Events, toEventResponse(ev))
	}
	return out
}

// filterFromRequest reads the optional type query parameter.
func filterFromRequest(r *http.Request) (models.Filter, error) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return models.FilterAll, nil
	}
	return models.ParseFilter(raw)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_event_type")
		return
	}
	events, _ := s.source.Snapshot()
	writeJSON(w, http.StatusOK, toViewResponse(cache.StudentView(events, filter)))
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_event_type")
		return
	}
	events, _ := s.source.Snapshot()
	view := cache.StudentView(events, filter)
	if view.Empty {
		writeError(w, http.StatusNotFound, "no_events")
		return
	}

	var buf bytes.Buffer
	if _, err := ics.Encode(&buf, "Events", view.Events, s.now()); err != nil {
		if errors.Is(err, ics.ErrNoEvents) {
			writeError(w, http.StatusNotFound, "no_events")
			return
		}
		s.logger.Error("Failed to encode calendar feed", "filter", filter, "error", err)
		writeError(w, http.StatusInternalServerError, "calendar_encode_failed")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("Failed to write calendar feed", "error", err)
	}
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventId")
	events, _ := s.source.Snapshot()
	for _, ev := range events {
		if ev.ID == id {
			writeJSON(w, http.StatusOK, toEventResponse(ev))
			return
		}
	}
	writeError(w, http.StatusNotFound, "event_not_found")
}

func (s *Server) handleOrganizerEvents(w http.ResponseWriter, r *http.Request) {
	email := models.NormalizeEmail(chi.URLParam(r, "email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "missing_email")
		return
	}
	events, _ := s.source.Snapshot()
	writeJSON(w, http.StatusOK, toViewResponse(cache.OrganizerView(events, email)))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
