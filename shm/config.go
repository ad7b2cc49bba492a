package shm

import (
	"time"

	"github.com/tpaschalis/goshm/internal/constants"
)

// Config holds the tunables that vary between a demo/test Provider and a
// production one: background task periods, pool sizes, and default
// layout sizing.
type Config struct {
	// Protocol is the ProtocolID stamped on every BufInfo this Provider
	// produces, letting a receiver pick a matching backend.
	Protocol ProtocolID

	// Segment naming
	HeaderPrefix   string // OS-name prefix for header segments (default "goshm_hdr")
	WatchdogPrefix string // OS-name prefix for watchdog segments (default "goshm_wd")

	// Watchdog timing
	ConfirmPeriod  time.Duration // default constants.ConfirmPeriod
	ValidatePeriod time.Duration // default constants.ValidatePeriod

	// Background task runtime
	RuntimeWorkersPerPool int // default constants.DefaultRuntimePoolWorkers

	// Default allocation sizing, used by callers that don't build a
	// layout explicitly.
	DefaultChunkSize uint64
	DefaultAlignment AllocAlignment
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Protocol:              1,
		HeaderPrefix:          "goshm_hdr",
		WatchdogPrefix:        "goshm_wd",
		ConfirmPeriod:         constants.ConfirmPeriod,
		ValidatePeriod:        constants.ValidatePeriod,
		RuntimeWorkersPerPool: constants.DefaultRuntimePoolWorkers,
		DefaultChunkSize:      4096,
		DefaultAlignment:      DefaultAlignment(),
	}
}
