// Package google stores collections in Cloud Firestore through its REST API and
// handles the Google credentials needed to reach it.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/firestore/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"eventhub/internal/provider"
)

const (
	// serverRequestTime is the Firestore transform that writes the commit time.
	serverRequestTime = "REQUEST_TIME"

	defaultPollInterval = 5 * time.Second
	defaultPageSize     = 300
)

// FirestoreOptions selects the database and the snapshot polling rate.
type FirestoreOptions struct {
	ProjectID    string
	DatabaseID   string
	PollInterval time.Duration
}

// Firestore is a provider.Provider over the Firestore REST API. Snapshots are produced
// by polling the collection and emitting whenever a document was added, changed or
// removed. Local writes trigger an immediate poll.
type Firestore struct {
	logger       *slog.Logger
	docs         *firestore.ProjectsDatabasesDocumentsService
	database     string
	pollInterval time.Duration
	newID        func() string

	mu      sync.Mutex
	watches map[*watch]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type watch struct {
	collection string
	stream     *provider.Stream
	kick       chan struct{}
}

// NewFirestore creates the REST service for opts.ProjectID.
func NewFirestore(ctx context.Context, logger *slog.Logger, opts FirestoreOptions, clientOpts ...option.ClientOption) (*Firestore, error) {
	if opts.ProjectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	if opts.DatabaseID == "" {
		opts.DatabaseID = "(default)"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	svc, err := firestore.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore service: %w", err)
	}
	return &Firestore{
		logger:       logger,
		docs:         svc.Projects.Databases.Documents,
		database:     fmt.Sprintf("projects/%s/databases/%s", opts.ProjectID, opts.DatabaseID),
		pollInterval: opts.PollInterval,
		newID:        func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		watches:      make(map[*watch]struct{}),
	}, nil
}

func (f *Firestore) root() string { return f.database + "/documents" }

// splitCollection returns the parent resource and the collection id of a slash
// separated collection path.
func splitCollection(root, collection string) (string, string) {
	collection = strings.Trim(collection, "/")
	i := strings.LastIndex(collection, "/")
	if i < 0 {
		return root, collection
	}
	return root + "/" + collection[:i], collection[i+1:]
}

func (f *Firestore) docName(collection, id string) string {
	return f.root() + "/" + strings.Trim(collection, "/") + "/" + id
}

func docID(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

// list reads a whole collection and returns the documents with a fingerprint that
// changes whenever any document does.
func (f *Firestore) list(ctx context.Context, collection string) ([]provider.Document, string, error) {
	parent, collectionID := splitCollection(f.root(), collection)
	docs := make([]provider.Document, 0)
	var fp strings.Builder
	err := f.docs.List(parent, collectionID).PageSize(defaultPageSize).Pages(ctx, func(resp *firestore.ListDocumentsResponse) error {
		for _, d := range resp.Documents {
			docs = append(docs, decodeDocument(d))
			fp.WriteString(d.Name)
			fp.WriteByte('@')
			fp.WriteString(d.UpdateTime)
			fp.WriteByte('\n')
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return docs, fp.String(), nil
}

// Subscribe lists the collection once, delivers it, and keeps polling until ctx ends
// or the subscription is closed. Poll failures are logged and the next tick tries again.
func (f *Firestore) Subscribe(ctx context.Context, collection string) (provider.Subscription, error) {
	docs, fp, err := f.list(ctx, collection)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, provider.ErrClosed
	}
	w := &watch{collection: collection, kick: make(chan struct{}, 1)}
	w.stream = provider.NewStream(func() {
		f.mu.Lock()
		delete(f.watches, w)
		f.mu.Unlock()
	})
	f.watches[w] = struct{}{}
	f.wg.Add(1)
	f.mu.Unlock()

	w.stream.Publish(provider.Snapshot{Docs: docs, ReadAt: time.Now().UTC()})
	go f.poll(ctx, w, fp)
	return w.stream, nil
}

func (f *Firestore) poll(ctx context.Context, w *watch, fp string) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stream.Close()
			return
		case <-w.stream.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		}

		docs, next, err := f.list(ctx, w.collection)
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("Failed to poll collection", "collection", w.collection, "error", err)
			}
			continue
		}
		if next == fp {
			continue
		}
		fp = next
		w.stream.Publish(provider.Snapshot{Docs: docs, ReadAt: time.Now().UTC()})
	}
}

// changed asks every watch of collection to poll now.
func (f *Firestore) changed(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for w := range f.watches {
		if w.collection != collection {
			continue
		}
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Query lists the collection and keeps the documents matching every filter.
func (f *Firestore) Query(ctx context.Context, collection string, filters ...provider.Filter) ([]provider.Document, error) {
	docs, _, err := f.list(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Document, 0, len(docs))
	for _, d := range docs {
		if provider.Matches(d, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Firestore) commit(ctx context.Context, collection string, writes ...*firestore.Write) error {
	_, err := f.docs.Commit(f.database, &firestore.CommitRequest{Writes: writes}).Context(ctx).Do()
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %v", provider.ErrConflict, err)
		}
		return fmt.Errorf("failed to commit to %s: %w", collection, err)
	}
	f.changed(collection)
	return nil
}

// createWrite builds a write that fails when the document already exists.
func createWrite(name string, fields provider.Fields) *firestore.Write {
	values, _, transforms := encodeFields(fields)
	return &firestore.Write{
		Update:           &firestore.Document{Name: name, Fields: values},
		UpdateTransforms: transforms,
		CurrentDocument:  &firestore.Precondition{Exists: false, ForceSendFields: []string{"Exists"}},
	}
}

// Insert stores fields under a new random id.
func (f *Firestore) Insert(ctx context.Context, collection string, fields provider.Fields) (string, error) {
	id := f.newID()
	if err := f.commit(ctx, collection, createWrite(f.docName(collection, id), fields)); err != nil {
		return "", err
	}
	return id, nil
}

// uniqueCollection holds one marker document per claimed value of field.
func uniqueCollection(collection, field string) string {
	return strings.Trim(collection, "/") + "_unique_" + field
}

// InsertUnique commits the document together with a marker keyed by value. The
// commit fails atomically when the marker already exists.
func (f *Firestore) InsertUnique(ctx context.Context, collection, field, value string, fields provider.Fields) (string, error) {
	id := f.newID()
	marker := createWrite(
		f.docName(uniqueCollection(collection, field), url.PathEscape(value)),
		provider.Fields{"ref": id},
	)
	if err := f.commit(ctx, collection, marker, createWrite(f.docName(collection, id), fields)); err != nil {
		return "", err
	}
	return id, nil
}

// UpsertMerge writes only the given fields and creates the document when missing.
func (f *Firestore) UpsertMerge(ctx context.Context, collection, id string, fields provider.Fields) error {
	values, paths, transforms := encodeFields(fields)
	w := &firestore.Write{
		Update:           &firestore.Document{Name: f.docName(collection, id), Fields: values},
		UpdateMask:       &firestore.DocumentMask{FieldPaths: paths},
		UpdateTransforms: transforms,
	}
	return f.commit(ctx, collection, w)
}

// Delete removes a document. Deleting a missing document succeeds.
func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	if _, err := f.docs.Delete(f.docName(collection, id)).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	f.changed(collection)
	return nil
}

// Close ends every subscription and waits for the pollers.
func (f *Firestore) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	streams := make([]*provider.Stream, 0, len(f.watches))
	for w := range f.watches {
		streams = append(streams, w.stream)
	}
	f.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	f.wg.Wait()
	return nil
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusConflict || gerr.Code == http.StatusPreconditionFailed
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// encodeFields converts document fields to Firestore values. ServerTimestamp values
// become REQUEST_TIME transforms and are left out of the values and the mask.
func encodeFields(fields provider.Fields) (map[string]firestore.Value, []string, []*firestore.FieldTransform) {
	values := make(map[string]firestore.Value, len(fields))
	paths := make([]string, 0, len(fields))
	var transforms []*firestore.FieldTransform

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			values[k] = stringValue(v)
		case time.Time:
			values[k] = firestore.Value{TimestampValue: v.UTC().Format(time.RFC3339Nano)}
		default:
			if provider.IsServerTimestamp(v) {
				transforms = append(transforms, &firestore.FieldTransform{FieldPath: k, SetToServerValue: serverRequestTime})
				continue
			}
			values[k] = stringValue(fmt.Sprint(v))
		}
		paths = append(paths, k)
	}
	return values, paths, transforms
}

// stringValue always sends stringValue so an empty string keeps its type.
func stringValue(s string) firestore.Value {
	return firestore.Value{StringValue: s, ForceSendFields: []string{"StringValue"}}
}

func decodeDocument(d *firestore.Document) provider.Document {
	fields := make(provider.Fields, len(d.Fields))
	for k, v := range d.Fields {
		if decoded, ok := decodeValue(v); ok {
			fields[k] = decoded
		}
	}
	return provider.Document{ID: docID(d.Name), Fields: fields}
}

// decodeValue keeps strings, timestamps and integers. An empty stringValue decodes to
// a Value with no type set, so that case reads back as "".
func decodeValue(v firestore.Value) (any, bool) {
	switch {
	case v.StringValue != "":
		return v.StringValue, true
	case v.NullValue != "", v.MapValue != nil, v.ArrayValue != nil:
		return nil, false
	case v.TimestampValue != "":
		if t, err := time.Parse(time.RFC3339Nano, v.TimestampValue); err == nil {
			return t, true
		}
		return v.TimestampValue, true
	case v.IntegerValue != 0:
		return strconv.FormatInt(v.IntegerValue, 10), true
	}
	return "", true
}
