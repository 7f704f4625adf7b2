package session

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := newID()

		if !strings.HasPrefix(id, "sess_") {
			t.Errorf("newID() = %q, missing \"sess_\" prefix", id)
		}

		// ULIDs encode to 26 characters.
		if len(id) != len("sess_")+26 {
			t.Errorf("newID() = %q, length %d, want %d", id, len(id), len("sess_")+26)
		}

		if _, exists := seen[id]; exists {
			t.Errorf("newID() produced duplicate ID %q", id)
		}
		seen[id] = struct{}{}
	}
}
