// Package syncer mirrors an organizer's events into a CalDAV calendar.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"eventhub/internal/models"
)

// DefaultStateFile is used when no state file is configured.
const DefaultStateFile = "publish-state.json"

// SyncState keeps track of which events have been published.
// The key is the event ID, the value is the version that was last written.
type SyncState map[string]string

// Calendar is the publishing target.
type Calendar interface {
	PutEvent(ctx context.Context, ev models.Event) error
	RemoveEvent(ctx context.Context, eventID string) error
}

// Source returns the events that should currently be on the calendar.
type Source func() []models.Event

// Result counts what one cycle did.
type Result struct {
	Put     int
	Removed int
	Skipped int
	Failed  int
}

// Syncer publishes the events of a Source into a Calendar.
type Syncer struct {
	logger    *slog.Logger
	source    Source
	calendar  Calendar
	stateFile string
	dryRun    bool

	mu    sync.Mutex
	state SyncState
}

// NewSyncer loads the state file, starting fresh when it does not exist yet.
func NewSyncer(logger *slog.Logger, source Source, calendar Calendar, stateFile string, dryRun bool) (*Syncer, error) {
	if stateFile == "" {
		stateFile = DefaultStateFile
	}
	state, err := loadState(stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("No publish state file found, starting fresh.", "file", stateFile)
			state = make(SyncState)
		} else {
			return nil, fmt.Errorf("failed to load publish state: %w", err)
		}
	}
	return &Syncer{
		logger:    logger,
		source:    source,
		calendar:  calendar,
		stateFile: stateFile,
		dryRun:    dryRun,
		state:     state,
	}, nil
}

// version identifies one revision of an event.
func version(ev models.Event) string {
	switch {
	case ev.UpdatedAt != "":
		return ev.UpdatedAt
	case ev.CreatedAt != "":
		return ev.CreatedAt
	case !ev.Timestamp.IsZero():
		return ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return "-"
}

// Sync performs one publish cycle: new and changed events are written, events that
// left the source are removed. A failing event does not stop the cycle.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Starting publish cycle.")
	var res Result
	events := s.source()
	seen := make(map[string]bool, len(events))

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		seen[ev.ID] = true
		v := version(ev)
		if s.state[ev.ID] == v {
			s.logger.Debug("Event already published, skipping.", "title", ev.Title, "id", ev.ID)
			res.Skipped++
			continue
		}
		if s.dryRun {
			s.logger.Info("[DRY RUN] Would publish event", "title", ev.Title, "date", ev.Date)
			res.Put++
			continue
		}
		if err := s.calendar.PutEvent(ctx, ev); err != nil {
			s.logger.Error("Failed to publish event", "title", ev.Title, "error", err)
			res.Failed++
			continue
		}
		s.state[ev.ID] = v
		res.Put++
	}

	stale := make([]string, 0)
	for id := range s.state {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	for _, id := range stale {
		if s.dryRun {
			s.logger.Info("[DRY RUN] Would remove event", "id", id)
			res.Removed++
			continue
		}
		if err := s.calendar.RemoveEvent(ctx, id); err != nil {
			s.logger.Error("Failed to remove event", "id", id, "error", err)
			res.Failed++
			continue
		}
		delete(s.state, id)
		res.Removed++
	}

	if !s.dryRun {
		if err := s.saveState(); err != nil {
			s.logger.Error("Failed to save publish state", "error", err)
		}
	}
	s.logger.Info("Publish cycle finished.", "put", res.Put, "removed", res.Removed, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// loadState loads the publish state from the JSON file.
func loadState(file string) (SyncState, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state == nil {
		state = make(SyncState)
	}
	return state, nil
}

// saveState saves the current publish state to the JSON file.
func (s *Syncer) saveState() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal publish state: %w", err)
	}
	return os.WriteFile(s.stateFile, data, 0644)
}
