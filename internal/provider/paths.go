package provider

import "path"

const (
	UsersCollection  = "users"
	EventsCollection = "events"
)

// UsersPath is the users collection of an application.
func UsersPath(appID string) string {
	return path.Join("artifacts", appID, "users", "global", UsersCollection)
}

// EventsPath is the public events collection of an application.
func EventsPath(appID string) string {
	return path.Join("artifacts", appID, "public", "data", EventsCollection)
}
