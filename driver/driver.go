// Package driver implements the scheduler driver façade: a thread-safe,
// synchronous API a framework's main goroutine calls, backed by the
// single scheduler actor in package schedactor.
//
// A user callback invoked from inside the actor (e.g. calling
// ReplyToOffer from within ResourceOffer) can safely re-enter any façade
// method: the actor never holds the façade's mutex while a callback
// runs, and every method here only locks to read or flip d.running,
// releasing the lock before doing anything that could call back into
// user code. An ordinary sync.Mutex therefore never deadlocks on the
// reentrant path.
package driver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/common"
	"github.com/twitter/nexosched/common/errors"
	"github.com/twitter/nexosched/common/stats"
	"github.com/twitter/nexosched/detector"
	"github.com/twitter/nexosched/sched"
	"github.com/twitter/nexosched/schedactor"
	"github.com/twitter/nexosched/wire"
)

// Config is the user-supplied configuration for a SchedulerDriver.
type Config struct {
	MasterSpec string
	User       string
}

// SchedulerDriver is the framework-facing façade. The zero value is not
// usable; construct with New.
type SchedulerDriver struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg       Config
	scheduler sched.Scheduler
	stat      stats.StatsReceiver

	running   bool
	sys       *actor.System
	act       *schedactor.Actor
	lastError error
}

// New constructs a driver bound to scheduler. Nothing runs until Start.
func New(cfg Config, scheduler sched.Scheduler, stat stats.StatsReceiver) *SchedulerDriver {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	d := &SchedulerDriver{cfg: cfg, scheduler: scheduler, stat: stat}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start resolves the master spec (possibly synthesizing an in-process
// single-node cluster for "local"/"localquiet") and spawns the scheduler
// actor. Returns -1 if already running or if the master spec failed to
// resolve; in either case LastError reports why, and a master-spec
// failure is also surfaced through the Scheduler's Error callback.
func (d *SchedulerDriver) Start() int {
	d.mu.Lock()
	if d.running {
		d.lastError = errors.NewError(fmt.Errorf("driver: already running"), errors.DoubleStartExitCode)
		d.mu.Unlock()
		return -1
	}

	sys := actor.NewSystem(common.GenUUID())
	det, err := detector.ParseMasterSpec(sys, d.cfg.MasterSpec)
	if err != nil {
		d.lastError = ConfigError(err)
		d.mu.Unlock()
		d.scheduler.Error(d, -1, err.Error())
		return -1
	}

	cfg := schedactor.Config{IsFT: strings.HasPrefix(d.cfg.MasterSpec, "zoo://"), User: d.cfg.User}
	act := schedactor.New(sys, cfg, det, d.scheduler, d, d.stat)

	d.sys = sys
	d.act = act
	d.running = true
	d.lastError = nil
	d.mu.Unlock()

	act.Start()
	return 0
}

// LastError returns the error, if any, from the most recent failed
// Start. Intended for callers (like cmd/nexosched-demo) that need a
// process exit code rather than just a sentinel -1.
func (d *SchedulerDriver) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}

// Stop unregisters the framework, requests the actor's termination, and
// wakes any goroutine blocked in Join. A second call is a no-op.
func (d *SchedulerDriver) Stop() int {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return -1
	}
	act := d.act
	d.running = false
	d.mu.Unlock()

	_ = d.sys.Send(act.PID(), act.PID(), wire.UnregisterFramework{})
	act.RequestTerminate()
	d.cond.Broadcast()
	return 0
}

// Join blocks the caller until running becomes false. There is no
// timeout; waiting from inside a Scheduler callback deadlocks by
// construction, and that is a client-side bug, not a driver one.
func (d *SchedulerDriver) Join() int {
	d.mu.Lock()
	for d.running {
		d.cond.Wait()
	}
	d.mu.Unlock()
	if d.act != nil {
		d.act.Wait()
	}
	return 0
}

// Run is Start followed by Join.
func (d *SchedulerDriver) Run() int {
	if rc := d.Start(); rc != 0 {
		return rc
	}
	return d.Join()
}

// KillTask requests termination of taskID. Requires the driver to be
// running.
func (d *SchedulerDriver) KillTask(taskID sched.TaskID) int {
	act, ok := d.runningActor()
	if !ok {
		return -1
	}
	_ = d.sys.Send(act.PID(), act.PID(), wire.KillTask{TaskID: taskID})
	return 0
}

// ReplyToOffer self-sends the reply to the actor, which performs the
// actual wire transmission so every offer-cache mutation stays on the
// actor's single goroutine.
func (d *SchedulerDriver) ReplyToOffer(offerID sched.OfferID, tasks []sched.TaskDescription, params map[string]string) int {
	act, ok := d.runningActor()
	if !ok {
		return -1
	}
	_ = d.sys.Send(act.PID(), act.PID(), wire.SlotOfferReply{OfferID: offerID, Tasks: tasks, Params: params})
	return 0
}

// ReviveOffers requests the master resume sending offers to this
// framework.
func (d *SchedulerDriver) ReviveOffers() int {
	act, ok := d.runningActor()
	if !ok {
		return -1
	}
	_ = d.sys.Send(act.PID(), act.PID(), wire.ReviveOffers{})
	return 0
}

// SendFrameworkMessage self-sends msg to the actor, which forwards it
// directly to the slave, bypassing the master.
func (d *SchedulerDriver) SendFrameworkMessage(msg sched.FrameworkMessage) int {
	act, ok := d.runningActor()
	if !ok {
		return -1
	}
	_ = d.sys.Send(act.PID(), act.PID(), msg)
	return 0
}

// PendingReliableSends reports how many reliable sends are awaiting an
// ack, for the admin surface's gauge. Zero when not running.
func (d *SchedulerDriver) PendingReliableSends() int {
	act, ok := d.runningActor()
	if !ok {
		return 0
	}
	return act.Messaging().PendingCount()
}

func (d *SchedulerDriver) runningActor() (*schedactor.Actor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil, false
	}
	return d.act, true
}

// ConfigError wraps a master-spec resolution failure (or any other
// configuration problem surfaced at Start) in a process-exit-code-bearing
// error, for callers like cmd/nexosched-demo that propagate it through
// cobra's RunE.
func ConfigError(err error) error {
	return errors.NewError(err, errors.ConfigFailureExitCode)
}
