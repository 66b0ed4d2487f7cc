// Package local provides an in-process, single-node cluster stand-in
// used when a driver is pointed at the "local" or "localquiet" master
// specs. It runs on the same actor.System as the scheduler actor that
// will talk to it — there is no network transport in this driver — and
// answers enough of the wire protocol for a framework to register,
// receive an offer, launch tasks, and exchange framework messages with
// the stand-in slave, all without any external infrastructure.
package local

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/common"
	"github.com/twitter/nexosched/common/log"
	"github.com/twitter/nexosched/sched"
	"github.com/twitter/nexosched/wire"
)

// pollInterval bounds how long the stand-in loops block between checks
// of the stopped flag, so Close returns promptly.
const pollInterval = 200 * time.Millisecond

// MasterActorName is the well-known name a local Cluster spawns its
// stand-in master mailbox under.
const MasterActorName = "master"

// SlaveActorName is the name of the cluster's single stand-in slave.
const SlaveActorName = "slave-0"

// SlaveID is the slave id carried by every offer a local Cluster mints.
const SlaveID = sched.SlaveID("local-slave-0")

// Epoch is constant for a local Cluster's lifetime: a single-node
// stand-in never fails over to a second epoch.
const Epoch = "local-0"

// Cluster is a single-node, in-process stand-in: one master, one slave.
// The master registers frameworks, offers the slave once per
// (re)registration and once per REVIVE_OFFERS, and reports every
// launched task RUNNING then FINISHED.
// The slave echoes framework messages back to their sender.
type Cluster struct {
	sys      *actor.System
	box      *actor.Mailbox
	slaveBox *actor.Mailbox

	stopped atomic.Bool

	mu        sync.Mutex
	nextOffer int
	fidBySrc  map[string]sched.FrameworkID
}

// New spawns the stand-in master and slave mailboxes on sys. When quiet
// is true, the process log level is raised to Warn.
func New(sys *actor.System, quiet bool) *Cluster {
	if quiet {
		log.SetLevel(logrus.WarnLevel)
	}
	c := &Cluster{
		sys:      sys,
		box:      sys.Spawn(MasterActorName, common.DefaultMailboxSize),
		slaveBox: sys.Spawn(SlaveActorName, common.DefaultMailboxSize),
		fidBySrc: make(map[string]sched.FrameworkID),
	}
	log.WithField("pid", c.box.PID()).Info("local: in-process master ready")
	go c.masterLoop()
	go c.slaveLoop()
	return c
}

// PID is the address a detector reports as the target of NewMaster.
func (c *Cluster) PID() actor.PID { return c.box.PID() }

// SlavePID is the stand-in slave's address, carried in every offer.
func (c *Cluster) SlavePID() actor.PID { return c.slaveBox.PID() }

// Close tears down the in-process cluster.
func (c *Cluster) Close() {
	c.stopped.Store(true)
	c.sys.Terminate(SlaveActorName, nil)
	c.sys.Terminate(MasterActorName, nil)
}

func (c *Cluster) masterLoop() {
	for {
		if c.stopped.Load() {
			return
		}
		env, ok := c.box.Receive(pollInterval)
		if !ok {
			continue
		}
		switch body := env.Body.(type) {
		case wire.RegisterFramework:
			fid := c.assignFrameworkID(env.From.String())
			_ = c.sys.Send(env.From, c.PID(), wire.RegisterReply{FrameworkID: fid})
			c.sendOffer(env.From)
		case wire.ReregisterFramework:
			_ = c.sys.Send(env.From, c.PID(), wire.RegisterReply{FrameworkID: body.FrameworkID})
			c.sendOffer(env.From)
		case wire.UnregisterFramework:
			c.mu.Lock()
			delete(c.fidBySrc, env.From.String())
			c.mu.Unlock()
		case wire.SlotOfferReply:
			c.runTasks(env.From, body.Tasks)
		case wire.ReviveOffers:
			c.sendOffer(env.From)
		case wire.KillTask:
			_ = c.sys.Send(env.From, c.PID(), wire.StatusUpdate{
				Status: sched.TaskStatus{TaskID: body.TaskID, State: sched.TaskKilled},
			})
		}
	}
}

// slaveLoop echoes every framework message straight back to its sender,
// which is enough for a demo framework to see its own payload round-trip
// through the slave path.
func (c *Cluster) slaveLoop() {
	for {
		if c.stopped.Load() {
			return
		}
		env, ok := c.slaveBox.Receive(pollInterval)
		if !ok {
			continue
		}
		if fm, ok := env.Body.(wire.FrameworkMessageOut); ok {
			_ = c.sys.Send(env.From, c.SlavePID(), wire.FrameworkMessageIn{Message: fm.Message})
		}
	}
}

func (c *Cluster) sendOffer(framework actor.PID) {
	c.mu.Lock()
	c.nextOffer++
	oid := sched.OfferID(fmt.Sprintf("local-o%d", c.nextOffer))
	c.mu.Unlock()

	_ = c.sys.Send(framework, c.PID(), wire.SlotOffer{
		OfferID: oid,
		Offers: []sched.SlaveOffer{{
			SlaveID:  SlaveID,
			SlavePID: c.SlavePID(),
			Host:     "localhost",
			Params:   map[string]string{"cpus": "1", "mem": "1024"},
		}},
	})
}

// runTasks reports every launched task RUNNING, then FINISHED. There is
// no executor underneath; the point is giving a framework the full
// status-update lifecycle to react to.
func (c *Cluster) runTasks(framework actor.PID, tasks []sched.TaskDescription) {
	for _, t := range tasks {
		_ = c.sys.Send(framework, c.PID(), wire.StatusUpdate{
			Status: sched.TaskStatus{TaskID: t.TaskID, State: sched.TaskRunning},
		})
		_ = c.sys.Send(framework, c.PID(), wire.StatusUpdate{
			Status: sched.TaskStatus{TaskID: t.TaskID, State: sched.TaskFinished},
		})
	}
}

func (c *Cluster) assignFrameworkID(src string) sched.FrameworkID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fid, ok := c.fidBySrc[src]; ok {
		return fid
	}
	fid := sched.FrameworkID(common.GenUUID())
	c.fidBySrc[src] = fid
	return fid
}
