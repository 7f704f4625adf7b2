package session

import "github.com/oklog/ulid/v2"

// newID returns a fresh session identifier: a ULID with a "sess_" prefix.
// ULIDs carry a millisecond timestamp, so IDs sort roughly by creation
// time, and the encoding is URL- and log-safe.
func newID() string {
	return "sess_" + ulid.Make().String()
}
