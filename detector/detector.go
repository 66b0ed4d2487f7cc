// Package detector resolves a master spec string into a live Detector
// that reports NewMaster / NoMaster events to the scheduler actor: a
// goroutine watches an external source and fans state transitions out
// over a channel rather than the caller polling.
package detector

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/local"
)

// Event is either a NewMaster or a NoMaster transition.
type Event interface {
	isEvent()
}

// NewMaster reports a master becoming reachable at PID under Epoch. An
// epoch change (even to the same PID) signals a failover; the scheduler
// actor treats it as invalidating every outstanding offer.
type NewMaster struct {
	Epoch string
	PID   actor.PID
}

func (NewMaster) isEvent() {}

// NoMaster reports that no master is currently known to be reachable.
type NoMaster struct{}

func (NoMaster) isEvent() {}

// Detector delivers master-presence transitions until Close.
type Detector interface {
	Events() <-chan Event
	Close() error
}

// directAddrRe validates a bare actor address: host:port, or
// name@host:port.
var directAddrRe = regexp.MustCompile(`^(?:([^@]+)@)?([^@/\s]+:\d+)$`)

// ParseMasterSpec resolves spec into a Detector:
//
//	zoo://HOST[,HOST…][/PATH]  coordination-service watch (fault-tolerant)
//	nexus://ADDRESS            direct mode
//	local / localquiet         in-process single-node stand-in on sys
//	anything else              bare direct address
//
// A direct address that fails to parse is unrecoverable; callers treat a
// non-nil error as fatal at driver start. sys is the actor.System a
// local stand-in master is spawned on — it must be the same system the
// scheduler actor will run on, and is unused for the other spec forms.
func ParseMasterSpec(sys *actor.System, spec string) (Detector, error) {
	switch {
	case strings.HasPrefix(spec, "zoo://"):
		return newEtcdDetector(strings.TrimPrefix(spec, "zoo://"))

	case strings.HasPrefix(spec, "nexus://"):
		pid, err := parseDirectAddress(strings.TrimPrefix(spec, "nexus://"))
		if err != nil {
			return nil, err
		}
		return newStaticDetector("direct-0", pid), nil

	case spec == "local":
		return newLocalDetector(sys, false), nil

	case spec == "localquiet":
		return newLocalDetector(sys, true), nil

	default:
		pid, err := parseDirectAddress(spec)
		if err != nil {
			return nil, errors.Wrapf(err, "detector: %q is not a recognized master spec", spec)
		}
		return newStaticDetector("direct-0", pid), nil
	}
}

func parseDirectAddress(s string) (actor.PID, error) {
	m := directAddrRe.FindStringSubmatch(s)
	if m == nil {
		return actor.PID{}, errors.Errorf("detector: %q is not a valid host:port or name@host:port address", s)
	}
	name := m[1]
	if name == "" {
		name = "master"
	}
	return actor.PID{Name: name, Addr: m[2]}, nil
}

// staticDetector is used for direct mode (nexus:// and bare addresses):
// the address is known up front and never changes, so it reports exactly
// one NewMaster and otherwise stays silent until Close.
type staticDetector struct {
	events    chan Event
	closeOnce sync.Once
}

func newStaticDetector(epoch string, pid actor.PID) *staticDetector {
	d := &staticDetector{events: make(chan Event, 1)}
	d.events <- NewMaster{Epoch: epoch, PID: pid}
	return d
}

func (d *staticDetector) Events() <-chan Event { return d.events }

func (d *staticDetector) Close() error {
	d.closeOnce.Do(func() { close(d.events) })
	return nil
}

// localDetector wraps a staticDetector pointed at an in-process
// local.Cluster, tearing the cluster down alongside the detector.
type localDetector struct {
	*staticDetector
	cluster *local.Cluster
}

func newLocalDetector(sys *actor.System, quiet bool) *localDetector {
	c := local.New(sys, quiet)
	return &localDetector{
		staticDetector: newStaticDetector(local.Epoch, c.PID()),
		cluster:        c,
	}
}

func (d *localDetector) Close() error {
	err := d.staticDetector.Close()
	d.cluster.Close()
	return err
}
