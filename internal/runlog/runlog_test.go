package runlog

import (
	"testing"
	"time"
)

// Without a database configured, every operation must be a safe no-op.
func TestDummyConnection(t *testing.T) {
	db := Dummy()
	if db.IsConnected() {
		t.Error("dummy connection claims to be connected")
	}
	msg := &RunMessage{ID: NewID(), Mode: "run", Start: time.Now()}
	db.RecordRun(msg) // must not block
	db.FinishRun(msg) // must not block
	db.Disconnect()

	var nilConn *Connection
	if nilConn.IsConnected() {
		t.Error("nil connection claims to be connected")
	}
}

func TestIDsAreUniqueAndSortable(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Errorf("two fresh IDs collide: %s", a)
	}
	if len(a) != 26 {
		t.Errorf("ID %q has length %d, want a 26-character ULID", a, len(a))
	}
}
