// Package constants centralizes the tunable defaults used across the
// shared-memory provider: watchdog timing, segment dedication retries, and
// allocation backoff.
package constants

import "time"

const (
	// ConfirmPeriod is how often an owner re-asserts ("confirms") every
	// watchdog bit it holds.
	ConfirmPeriod = 100 * time.Millisecond

	// ValidatePeriod is how often the validator clears watchdog bits and
	// flags any that were not reasserted since the previous pass. Design
	// default is 2x ConfirmPeriod.
	ValidatePeriod = 2 * ConfirmPeriod

	// SegmentDedicateTries bounds how many random ids Segment.Create will
	// draw before giving up with OutOfIds.
	SegmentDedicateTries = 100

	// BlockOnBackoff is a 1 ms poll interval. BlockOn does not use it: it
	// waits at most BlockOnNotifyTimeout for the Provider's
	// free-notification signal before retrying.
	BlockOnBackoff = 1 * time.Millisecond

	// BlockOnNotifyTimeout bounds how long a BlockOn wait sits on the
	// free-notification channel before re-checking the inner policy.
	BlockOnNotifyTimeout = 5 * time.Millisecond

	// WatchdogWordsPerSegment is the number of 64-bit atomic words held by
	// each watchdog bitmap segment (64 liveness slots per word) before a
	// new segment is grown.
	WatchdogWordsPerSegment = 1024

	// HeaderSlotsPerSegment is the number of Header records held by each
	// header array segment.
	HeaderSlotsPerSegment = 1024

	// DefaultRuntimePoolWorkers is the per-pool worker count used by
	// internal/runtime's default pools, mirroring the "5 pools of 2
	// threads each" design default.
	DefaultRuntimePoolWorkers = 2
)
