// Package provider defines the remote document collection contract the client core is
// written against, plus an in-process implementation.
package provider

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document already exists")
	ErrClosed   = errors.New("provider closed")
)

// Fields is the field map of a stored document. Values are strings, time.Time for
// resolved server timestamps, or ServerTimestamp on write.
type Fields map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Time returns the value of key as a time. Strings are parsed as RFC 3339.
func (f Fields) Time(key string) time.Time {
	switch v := f[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value that the provider replaces with its own
// clock at write time.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Document is a stored document and its provider-assigned identifier.
type Document struct {
	ID     string
	Fields Fields
}

// Filter is an equality predicate on a single field.
type Filter struct {
	Field string
	Value string
}

// Eq builds an equality Filter.
func Eq(field, value string) Filter { return Filter{Field: field, Value: value} }

// Matches reports whether doc satisfies every filter.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if doc.Fields.String(f.Field) != f.Value {
			return false
		}
	}
	return true
}

// Snapshot is the full ordered content of a collection at one point in time.
type Snapshot struct {
	Docs   []Document
	ReadAt time.Time
}

// Subscription is a live stream of snapshots. The first snapshot is delivered as soon
// as the subscription is established. Consumers that fall behind only observe the most
// recent snapshot. Snapshots is closed after Close or when the subscribing context ends.
type Subscription interface {
	Snapshots() <-chan Snapshot
	// Err returns the error that terminated the stream, if any.
	Err() error
	Close() error
}

// Provider is a remote document collection store with real-time snapshots.
type Provider interface {
	Subscribe(ctx context.Context, collection string) (Subscription, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Insert(ctx context.Context, collection string, fields Fields) (string, error)
	// UpsertMerge creates the document if absent, otherwise overlays fields onto it.
	UpsertMerge(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
}

// UniqueInserter is implemented by providers that can insert a document only when no
// other document in the collection holds the same value for field. It returns
// ErrConflict when the value is taken.
type UniqueInserter interface {
	InsertUnique(ctx context.Context, collection, field, value string, fields Fields) (string, error)
}
