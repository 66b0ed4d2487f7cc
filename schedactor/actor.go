// Package schedactor implements the scheduler actor: the single-threaded
// event loop that owns every piece of framework-side state — the offer
// cache, the slave-pid cache, registration — and is the only goroutine
// that ever invokes a user Scheduler callback.
//
// The shape is one goroutine, one blocking timed receive, one dispatch
// per iteration. Serializing everything through the mailbox is what
// makes the offer cache and the reliable layer single-writer.
package schedactor

import (
	"fmt"
	"os/user"
	"sync/atomic"
	"time"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/common"
	"github.com/twitter/nexosched/common/log"
	"github.com/twitter/nexosched/common/stats"
	"github.com/twitter/nexosched/detector"
	"github.com/twitter/nexosched/messaging"
	"github.com/twitter/nexosched/sched"
	"github.com/twitter/nexosched/wire"
)

// Config configures a new Actor. The master spec itself is resolved one
// level up, by the driver façade, so that a bad spec fails at
// driver.Start before any actor or detector resource exists.
type Config struct {
	// IsFT mirrors whether the resolved master spec used the zoo://
	// scheme: it governs whether SLOT_OFFER_REPLY and framework messages
	// go out via the reliable layer and how a broken master link is
	// handled.
	IsFT bool
	// User overrides the resolved process-owner identity placed in the
	// registration payload; empty means resolve it automatically.
	User string
	// FTTimeout bounds the blocking receive in the main loop: it is the
	// reliable-layer tick, and the upper bound on terminate-flag
	// staleness. Zero means common.DefaultFTTimeout.
	FTTimeout time.Duration
}

// Actor is the scheduler actor. Construct with New, then Start it;
// RequestTerminate requests shutdown (observed at the next receive-timeout boundary) and
// Wait blocks until it has exited.
type Actor struct {
	sys *actor.System
	box *actor.Mailbox

	cfg       Config
	isFT      bool
	ftTimeout time.Duration
	user      string
	scheduler sched.Scheduler
	driver    sched.Driver
	ftm       *messaging.FTMessaging
	det       detector.Detector
	stat      stats.StatsReceiver

	terminate atomic.Bool

	master      actor.PID
	epoch       string
	frameworkID sched.FrameworkID
	offers      map[sched.OfferID]map[sched.SlaveID]actor.PID
	slavePids   map[sched.SlaveID]actor.PID
}

// ActorName is the well-known mailbox name a driver's actor.System spawns
// its scheduler actor under.
const ActorName = "scheduler"

// DetectorBridgeName is the mailbox name detector events are tagged with
// as their envelope sender, purely for logging.
const DetectorBridgeName = "detector"

// New constructs the actor's mailbox and reliable-messaging layer and
// wires them to scheduler and det — but does not yet start the event
// loop; call Start for that. det is already resolved
// (detector.ParseMasterSpec) by the caller.
func New(sys *actor.System, cfg Config, det detector.Detector, scheduler sched.Scheduler, driver sched.Driver, stat stats.StatsReceiver) *Actor {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	u := cfg.User
	if u == "" {
		if cur, err := user.Current(); err == nil {
			u = cur.Username
		} else {
			u = "unknown"
		}
	}

	ftTimeout := cfg.FTTimeout
	if ftTimeout <= 0 {
		ftTimeout = common.DefaultFTTimeout
	}

	a := &Actor{
		sys:       sys,
		box:       sys.Spawn(ActorName, common.DefaultMailboxSize),
		cfg:       cfg,
		isFT:      cfg.IsFT,
		ftTimeout: ftTimeout,
		user:      u,
		scheduler: scheduler,
		driver:    driver,
		det:       det,
		stat:      stat,
		offers:    make(map[sched.OfferID]map[sched.SlaveID]actor.PID),
		slavePids: make(map[sched.SlaveID]actor.PID),
	}
	a.ftm = messaging.New(a.sendFunc, stat.Scope("reliable"), actor.PID{})
	return a
}

// PID is this actor's mailbox address, the target of every self-send a
// driver façade issues (ReplyToOffer, KillTask, ReviveOffers,
// SendFrameworkMessage).
func (a *Actor) PID() actor.PID { return a.box.PID() }

// System exposes the actor.System a driver façade sends self-sends
// through; the actor does not own a separate command API because every
// façade method reduces to "send this struct to a.PID()".
func (a *Actor) System() *actor.System { return a.sys }

// RequestTerminate sets the terminate flag observed at the actor's next
// receive-timeout boundary.
func (a *Actor) RequestTerminate() {
	a.terminate.Store(true)
}

// Wait blocks until the actor's main loop has exited.
func (a *Actor) Wait() {
	a.sys.Wait(ActorName)
}

// Messaging exposes the reliable-delivery layer, mainly so tests and the
// admin surface can tune retry parameters and observe pending state.
func (a *Actor) Messaging() *messaging.FTMessaging { return a.ftm }

// Start forwards detector events into the actor's own mailbox and spawns
// the main loop goroutine. Direct mode and fault-tolerant mode share a
// startup path: both learn the master from a NewMaster event, the
// former's emitted once by a static detector.
func (a *Actor) Start() {
	go a.bridgeDetectorEvents()
	go a.run()
}

func (a *Actor) bridgeDetectorEvents() {
	from := actor.PID{Name: DetectorBridgeName, Addr: a.sys.Addr()}
	for ev := range a.det.Events() {
		if err := a.sys.Send(a.PID(), from, ev); err != nil {
			return
		}
	}
}

func (a *Actor) run() {
	defer a.sys.Terminate(ActorName, nil)
	defer a.det.Close()
	for {
		if a.terminate.Load() {
			return
		}
		env, ok := a.box.Receive(a.ftTimeout)
		if !ok {
			a.ftm.SendOutstanding()
			continue
		}
		a.dispatch(env)
	}
}

func (a *Actor) dispatch(env actor.Envelope) {
	switch body := env.Body.(type) {
	case detector.NewMaster:
		a.handleNewMaster(body)
	case detector.NoMaster:
		log.Warn("schedactor: no master currently detected")
	case wire.RegisterReply:
		a.frameworkID = body.FrameworkID
		a.stat.Counter("registrations").Inc(1)
		a.scheduler.Registered(a.driver, a.frameworkID)
	case wire.SlotOffer:
		a.handleSlotOffer(body)
	case wire.RescindOffer:
		delete(a.offers, body.OfferID)
		a.scheduler.OfferRescinded(a.driver, body.OfferID)
	case wire.SlotOfferReply:
		a.handleSlotOfferReply(body)
	case sched.FrameworkMessage:
		a.forwardToSlave(body)
	case wire.FTStatusUpdate:
		if a.ftm.AcceptMessageAck(func() { a.sendToOrigin(body.Origin, wire.RelayAck{FTID: body.FTID, Sender: a.PID()}) }, body.FTID, body.Origin) {
			a.scheduler.StatusUpdate(a.driver, body.Status)
		}
	case wire.StatusUpdate:
		a.scheduler.StatusUpdate(a.driver, body.Status)
	case wire.FTFrameworkMessageIn:
		if a.ftm.AcceptMessageAck(func() { a.sendToOrigin(body.Origin, wire.RelayAck{FTID: body.FTID, Sender: a.PID()}) }, body.FTID, body.Origin) {
			a.scheduler.FrameworkMessage(a.driver, body.Message)
		}
	case wire.FrameworkMessageIn:
		a.scheduler.FrameworkMessage(a.driver, body.Message)
	case wire.LostSlave:
		delete(a.slavePids, body.SlaveID)
		a.scheduler.SlaveLost(a.driver, body.SlaveID)
	case wire.Error:
		a.scheduler.Error(a.driver, body.Code, body.Message)
	case actor.Exit:
		a.handleExit(body)
	case wire.RelayAck:
		a.ftm.GotAck(body.FTID)
	case wire.KillTask:
		// frameworkID is filled in here, not by the caller: it is
		// actor-owned state and the driver façade has no safe way to
		// read it without synchronization.
		a.sendToMaster(wire.KillTask{FrameworkID: a.frameworkID, TaskID: body.TaskID})
	case wire.ReviveOffers:
		a.sendToMaster(wire.ReviveOffers{FrameworkID: a.frameworkID})
	case wire.UnregisterFramework:
		a.sendToMaster(wire.UnregisterFramework{FrameworkID: a.frameworkID})
	default:
		a.scheduler.Error(a.driver, -1, fmt.Sprintf("unknown message %T", env.Body))
	}
}

// handleNewMaster retargets the reliable layer, re-links, and
// (re)registers. A changed epoch means a failover: any offer still in
// the cache was minted by the previous master and would never be
// accepted by the new one, so each is dropped and reported rescinded
// rather than left to key a reply into a dead entry.
func (a *Actor) handleNewMaster(nm detector.NewMaster) {
	if a.epoch != "" && a.epoch != nm.Epoch && len(a.offers) > 0 {
		for oid := range a.offers {
			delete(a.offers, oid)
			a.scheduler.OfferRescinded(a.driver, oid)
		}
	}
	a.epoch = nm.Epoch
	a.master = nm.PID
	a.ftm.Retarget(nm.PID)
	a.sys.Link(a.PID(), nm.PID)

	log.WithFields(map[string]interface{}{"master": nm.PID, "epoch": nm.Epoch}).Info("schedactor: new master detected")

	name := a.scheduler.GetFrameworkName(a.driver)
	execInfo := a.scheduler.GetExecutorInfo(a.driver)
	if a.frameworkID == "" {
		a.sendToMaster(wire.RegisterFramework{Name: name, User: a.user, ExecutorInfo: execInfo})
	} else {
		a.stat.Counter("reregistrations").Inc(1)
		a.sendToMaster(wire.ReregisterFramework{FrameworkID: a.frameworkID, Name: name, User: a.user, ExecutorInfo: execInfo})
	}
}

func (a *Actor) handleSlotOffer(so wire.SlotOffer) {
	bySlave := make(map[sched.SlaveID]actor.PID, len(so.Offers))
	for _, o := range so.Offers {
		bySlave[o.SlaveID] = o.SlavePID
	}
	a.offers[so.OfferID] = bySlave
	a.stat.Counter("offers.received").Inc(1)
	a.scheduler.ResourceOffer(a.driver, so.OfferID, so.Offers)
}

// handleSlotOfferReply copies each task's slave pid from the offer cache
// into the slave-pid cache, erases the offer-cache entry, and forwards
// the reply — reliably if fault-tolerant, with a give-up listener that
// synthesizes a LOST status per task, or plainly otherwise. A reply
// naming a slave the offer never contained is reported as an error
// instead of launching against an empty pid.
func (a *Actor) handleSlotOfferReply(reply wire.SlotOfferReply) {
	bySlave, ok := a.offers[reply.OfferID]
	if !ok {
		a.scheduler.Error(a.driver, -1, fmt.Sprintf("reply to unknown offer %s", reply.OfferID))
		return
	}
	for _, t := range reply.Tasks {
		pid, known := bySlave[t.SlaveID]
		if !known || pid.Empty() {
			a.scheduler.Error(a.driver, -1, fmt.Sprintf("slot offer reply references unknown slave %s for offer %s", t.SlaveID, reply.OfferID))
			return
		}
		a.slavePids[t.SlaveID] = pid
	}
	delete(a.offers, reply.OfferID)
	reply.FrameworkID = a.frameworkID
	a.stat.Counter("offers.replied").Inc(1)

	if !a.isFT {
		a.sendToMaster(reply)
		return
	}

	tasks := reply.Tasks
	ftID := a.ftm.GetNextId()
	a.ftm.ReliableSend(ftID, wire.FTSlotOfferReply{
		FTID:        ftID,
		Origin:      a.PID(),
		FrameworkID: reply.FrameworkID,
		OfferID:     reply.OfferID,
		Tasks:       reply.Tasks,
		Params:      reply.Params,
	}, func() {
		for _, t := range tasks {
			status := sched.TaskStatus{TaskID: t.TaskID, State: sched.TaskLost}
			_ = a.sys.Send(a.PID(), a.PID(), wire.StatusUpdate{Status: status})
		}
	})
}

// forwardToSlave delivers a framework message straight to the slave's
// pid, bypassing the master. In fault-tolerant mode the send is
// reliable, pinned to the slave, and a give-up is surfaced through the
// user's Error callback — there is no task to hang a LOST status on.
func (a *Actor) forwardToSlave(msg sched.FrameworkMessage) {
	pid, ok := a.slavePids[msg.SlaveID]
	if !ok {
		a.scheduler.Error(a.driver, -1, fmt.Sprintf("framework message to unknown slave %s", msg.SlaveID))
		return
	}

	if !a.isFT {
		if err := a.sys.Send(pid, a.PID(), wire.FrameworkMessageOut{FrameworkID: a.frameworkID, Message: msg}); err != nil {
			log.WithField("slave", msg.SlaveID).Warnf("schedactor: framework message delivery failed: %v", err)
		}
		return
	}

	sid := msg.SlaveID
	ftID := a.ftm.GetNextId()
	a.ftm.ReliableSendTo(pid, ftID, wire.FTFrameworkMessageOut{
		FTID:        ftID,
		Origin:      a.PID(),
		FrameworkID: a.frameworkID,
		Message:     msg,
	}, func() {
		errMsg := wire.Error{Code: -1, Message: fmt.Sprintf("framework message to slave %s undelivered after %d attempts", sid, messaging.DefaultMaxAttempts)}
		_ = a.sys.Send(a.PID(), a.PID(), errMsg)
	})
}

func (a *Actor) handleExit(ex actor.Exit) {
	if a.isFT {
		log.WithField("master", ex.Who).Warn("schedactor: lost link to master, awaiting new detection")
		return
	}
	a.scheduler.Error(a.driver, -1, "Connection to master failed")
}

func (a *Actor) sendToMaster(body interface{}) {
	if err := a.sys.Send(a.master, a.PID(), body); err != nil {
		log.WithField("master", a.master).Warnf("schedactor: send to master failed: %v", err)
	}
}

func (a *Actor) sendToOrigin(origin actor.PID, body interface{}) {
	if err := a.sys.Send(origin, a.PID(), body); err != nil {
		log.WithField("origin", origin).Warnf("schedactor: ack delivery failed: %v", err)
	}
}

func (a *Actor) sendFunc(dest actor.PID, body interface{}) error {
	return a.sys.Send(dest, a.PID(), body)
}
