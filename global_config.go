package gosmu

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by gosmu.
type Portnumbers struct {
	Frames int // ZMQ PUB socket streaming measured frames
}

// Ports globally holds all TCP port numbers used by gosmu.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.Frames = base
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

func init() {
	setPortnumbers(5600)
	StartTime = time.Now()

	// The smud main program will override this, but at least initialize with
	// a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
}
