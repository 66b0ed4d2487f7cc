package common

import (
	"time"
)

// DefaultClientTimeout is a default bound for blocking client calls
// against the driver; the driver and cmd/nexosched-demo do not apply it.
const DefaultClientTimeout = time.Minute

// DefaultFTTimeout is the actor's blocking-receive timeout: the reliable
// messaging tick, and the upper bound on how stale a terminate request can
// be before the scheduler actor observes it.
const DefaultFTTimeout = 1 * time.Second

// DefaultMailboxSize is the buffer size of a mailbox's intake channel;
// the queue behind that channel is unbounded.
const DefaultMailboxSize = 256
