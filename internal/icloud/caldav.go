// Package icloud publishes events to a CalDAV calendar. iCloud is the default server,
// any CalDAV endpoint works.
package icloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"eventhub/internal/ics"
	"eventhub/internal/models"
)

// DefaultEndpoint is the iCloud CalDAV server.
const DefaultEndpoint = "https://caldav.icloud.com/"

// ErrCalendarNotFound is returned when no calendar carries the configured name.
var ErrCalendarNotFound = errors.New("calendar not found")

// basicAuthTransport adds Basic Auth and a User-Agent to each request.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "eventhub/1.0")
	return t.Transport.RoundTrip(req)
}

// Options selects the server, account and calendar.
type Options struct {
	Endpoint string
	Username string
	Password string
	Calendar string
}

// CalDAVClient writes events into one calendar collection.
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
	now          func() time.Time
}

// NewClient connects to the server and resolves the calendar by display name.
func NewClient(ctx context.Context, logger *slog.Logger, opts Options) (*CalDAVClient, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			Username:  opts.Username,
			Password:  opts.Password,
			Transport: http.DefaultTransport,
		},
		Timeout: 30 * time.Second,
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		now:          time.Now,
	}

	logger.Info("Finding CalDAV calendar", "endpoint", endpoint, "calendarName", opts.Calendar)
	calendarPath, err := c.findCalendar(ctx, opts.Calendar)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", opts.Calendar, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Found CalDAV calendar", "path", calendarPath)
	return c, nil
}

// objectPath is where an event lives inside the calendar collection.
func objectPath(calendarPath, eventID string) string {
	return path.Join(calendarPath, eventID+".ics")
}

// PutEvent creates or replaces the calendar object of ev.
func (c *CalDAVClient) PutEvent(ctx context.Context, ev models.Event) error {
	vevent, ok := ics.Component(ev, c.now().UTC())
	if !ok {
		return fmt.Errorf("event %s has no valid date %q", ev.ID, ev.Date)
	}
	cal := ics.NewCalendar("", vevent)

	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath(c.calendarPath, ev.ID), cal); err != nil {
		return fmt.Errorf("failed to put event on CalDAV server: %w", err)
	}
	c.logger.Debug("Put event to CalDAV", "id", ev.ID, "title", ev.Title)
	return nil
}

// RemoveEvent deletes the calendar object of event id.
func (c *CalDAVClient) RemoveEvent(ctx context.Context, eventID string) error {
	if err := c.webdavClient.RemoveAll(ctx, objectPath(c.calendarPath, eventID)); err != nil {
		return fmt.Errorf("failed to remove event from CalDAV server: %w", err)
	}
	c.logger.Debug("Removed event from CalDAV", "id", eventID)
	return nil
}

// findCalendar walks principal, home set and calendars and returns the path of the
// calendar called name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}
	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}
	return pickCalendar(calendars, name)
}

func pickCalendar(calendars []caldav.Calendar, name string) (string, error) {
	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) && supportsEvents(cal) {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrCalendarNotFound, name)
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompEvent {
			return true
		}
	}
	return false
}
