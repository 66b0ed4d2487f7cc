// Package messaging implements the reliable-delivery layer:
// retransmission with a per-attempt cap, inbound dedup by (id, origin),
// and an ack channel back to the sender. One instance is shared by
// reference across the scheduler actor and its collaborators.
package messaging

import (
	"sync"
	"time"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/common"
	"github.com/twitter/nexosched/common/log"
	"github.com/twitter/nexosched/common/stats"
)

const (
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 1 * time.Second
	DefaultDedupTTL      = 5 * time.Minute
	DefaultMaxDedupKeys  = 8192
)

// SendFunc performs the actual wire transmission of body to dest. The
// reliable layer never dials a transport itself — that is the scheduler
// actor's job, keeping this package transport-agnostic.
type SendFunc func(dest actor.PID, body interface{}) error

type pendingEntry struct {
	dest     actor.PID
	pinned   bool // dest is fixed (e.g. a slave); Retarget must not move it
	payload  interface{}
	deadline time.Time
	attempts int
	onGiveUp func()
}

type dedupKey struct {
	id     string
	origin actor.PID
}

// FTMessaging is the reliable-delivery layer. The zero value is not
// usable; construct with New.
type FTMessaging struct {
	send  SendFunc
	stats stats.StatsReceiver

	maxAttempts   int
	retryInterval time.Duration
	dedupTTL      time.Duration
	maxDedupKeys  int

	mu      sync.Mutex
	dest    actor.PID
	pending map[string]*pendingEntry
	dedup   map[dedupKey]time.Time
	// dedupOrder preserves insertion order for size-bounded eviction.
	dedupOrder []dedupKey
}

// New constructs an FTMessaging that transmits via send and records
// counters on stat. dest is the initially-known master.
func New(send SendFunc, stat stats.StatsReceiver, dest actor.PID) *FTMessaging {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &FTMessaging{
		send:          send,
		stats:         stat,
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
		dedupTTL:      DefaultDedupTTL,
		maxDedupKeys:  DefaultMaxDedupKeys,
		dest:          dest,
		pending:       make(map[string]*pendingEntry),
		dedup:         make(map[dedupKey]time.Time),
	}
}

// SetRetryParams overrides the retry interval and max attempt count;
// intended for tests that don't want to wait out the production defaults.
func (f *FTMessaging) SetRetryParams(maxAttempts int, retryInterval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxAttempts = maxAttempts
	f.retryInterval = retryInterval
}

// GetNextId mints an opaque id unique within this process's lifetime.
func (f *FTMessaging) GetNextId() string {
	return common.GenUUID()
}

// Retarget points every pending master-bound send, and all future sends,
// at newDest. Invoked when a new master is detected; entries pinned to a
// specific peer (direct slave sends) keep their destination.
func (f *FTMessaging) Retarget(newDest actor.PID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dest = newDest
	for _, e := range f.pending {
		if !e.pinned {
			e.dest = newDest
		}
	}
}

// ReliableSend enqueues payload for delivery to the current master
// under id, transmitting it immediately. The id must be the same one
// carried inside the payload so the receiver's RELAY_ACK clears this
// entry; mint it with GetNextId. onGiveUp is invoked by a later
// SendOutstanding call, on that call's goroutine, once every retry is
// exhausted without an ack.
func (f *FTMessaging) ReliableSend(id string, payload interface{}, onGiveUp func()) {
	f.mu.Lock()
	dest := f.dest
	f.mu.Unlock()
	f.enqueue(dest, false, id, payload, onGiveUp)
}

// ReliableSendTo is ReliableSend pinned to an explicit peer: the entry
// keeps retransmitting to dest even across a master change. Used for
// framework messages that go directly to a slave.
func (f *FTMessaging) ReliableSendTo(dest actor.PID, id string, payload interface{}, onGiveUp func()) {
	f.enqueue(dest, true, id, payload, onGiveUp)
}

func (f *FTMessaging) enqueue(dest actor.PID, pinned bool, id string, payload interface{}, onGiveUp func()) {
	f.mu.Lock()
	f.pending[id] = &pendingEntry{
		dest:     dest,
		pinned:   pinned,
		payload:  payload,
		deadline: time.Now().Add(f.retryInterval),
		attempts: 1,
		onGiveUp: onGiveUp,
	}
	f.mu.Unlock()

	f.stats.Counter("reliable.sent").Inc(1)
	if err := f.send(dest, payload); err != nil {
		log.WithField("id", id).Warnf("reliable send to %s failed: %v", dest, err)
	}
}

// SendOutstanding retransmits every pending entry whose deadline has
// passed, incrementing its attempt count, and drops (with onGiveUp) any
// entry that has exhausted its attempts. Called synchronously from the
// actor's receive-timeout boundary, never from a separate timer
// goroutine.
func (f *FTMessaging) SendOutstanding() {
	now := time.Now()
	var giveUps []func()

	f.mu.Lock()
	for id, e := range f.pending {
		if now.Before(e.deadline) {
			continue
		}
		if e.attempts >= f.maxAttempts {
			delete(f.pending, id)
			if e.onGiveUp != nil {
				giveUps = append(giveUps, e.onGiveUp)
			}
			continue
		}
		e.attempts++
		e.deadline = now.Add(f.retryInterval)
		dest, payload := e.dest, e.payload
		f.mu.Unlock()
		f.stats.Counter("reliable.retransmitted").Inc(1)
		if err := f.send(dest, payload); err != nil {
			log.WithField("id", id).Warnf("reliable retransmit to %s failed: %v", dest, err)
		}
		f.mu.Lock()
	}
	f.mu.Unlock()

	for _, giveUp := range giveUps {
		f.stats.Counter("reliable.giveup").Inc(1)
		giveUp()
	}
}

// PendingCount reports how many sends are awaiting an ack, for gauges on
// the admin surface.
func (f *FTMessaging) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// GotAck removes id from the pending table, acknowledging a successful
// delivery.
func (f *FTMessaging) GotAck(id string) {
	f.mu.Lock()
	delete(f.pending, id)
	f.mu.Unlock()
}

// AcceptMessageAck records (id, origin) in the dedup set, invoking ackFn
// on every call so the sender always gets its acknowledgement, and
// returns true the first time this (id, origin) pair was seen, false on
// every subsequent duplicate.
func (f *FTMessaging) AcceptMessageAck(ackFn func(), id string, origin actor.PID) bool {
	key := dedupKey{id: id, origin: origin}
	now := time.Now()

	f.mu.Lock()
	f.evictExpiredLocked(now)
	_, seen := f.dedup[key]
	if !seen {
		if len(f.dedupOrder) >= f.maxDedupKeys {
			oldest := f.dedupOrder[0]
			f.dedupOrder = f.dedupOrder[1:]
			delete(f.dedup, oldest)
		}
		f.dedup[key] = now
		f.dedupOrder = append(f.dedupOrder, key)
	}
	f.mu.Unlock()

	if ackFn != nil {
		ackFn()
	}
	if seen {
		f.stats.Counter("statusUpdates.duplicate").Inc(1)
	}
	return !seen
}

func (f *FTMessaging) evictExpiredLocked(now time.Time) {
	cutoff := now.Add(-f.dedupTTL)
	i := 0
	for ; i < len(f.dedupOrder); i++ {
		if f.dedup[f.dedupOrder[i]].After(cutoff) {
			break
		}
		delete(f.dedup, f.dedupOrder[i])
	}
	f.dedupOrder = f.dedupOrder[i:]
}
