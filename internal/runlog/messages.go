package runlog

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the activity table: one row per
// process lifetime.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the runs table:
// one row per Run call or streaming interval.
type RunMessage struct {
	ID         string
	ActivityID string
	Mode       string
	SampleRate int
	Nchan      int
	Ticks      uint64
	FramesRead uint64
	Drops      uint64
	Start      time.Time
	End        time.Time
}

// NewID returns a fresh ULID for activity and run rows.
func NewID() string {
	return ulid.Make().String()
}
