// Package wire defines the typed messages exchanged between a framework,
// the master, and slaves. These are plain struct definitions — the
// pack/unpack codec lives with the transport, not here — each tagged
// with a MessageKind for cheap logging and metrics naming even though Go
// dispatch uses a type switch.
package wire

import (
	"fmt"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/sched"
)

// MessageKind names a wire message for logs and stats, independent of its
// Go type.
type MessageKind string

const (
	KindRegisterFramework     MessageKind = "REGISTER_FRAMEWORK"
	KindReregisterFramework   MessageKind = "REREGISTER_FRAMEWORK"
	KindUnregisterFramework   MessageKind = "UNREGISTER_FRAMEWORK"
	KindRegisterReply         MessageKind = "REGISTER_REPLY"
	KindSlotOffer             MessageKind = "SLOT_OFFER"
	KindRescindOffer          MessageKind = "RESCIND_OFFER"
	KindSlotOfferReply        MessageKind = "SLOT_OFFER_REPLY"
	KindFTSlotOfferReply      MessageKind = "FT_SLOT_OFFER_REPLY"
	KindKillTask              MessageKind = "KILL_TASK"
	KindReviveOffers          MessageKind = "REVIVE_OFFERS"
	KindFrameworkMessage      MessageKind = "FRAMEWORK_MESSAGE"
	KindFTFrameworkMessage    MessageKind = "FT_FRAMEWORK_MESSAGE"
	KindStatusUpdate          MessageKind = "STATUS_UPDATE"
	KindFTStatusUpdate        MessageKind = "FT_STATUS_UPDATE"
	KindLostSlave             MessageKind = "LOST_SLAVE"
	KindError                 MessageKind = "ERROR"
	KindRelayAck              MessageKind = "RELAY_ACK"
)

// --- Framework -> Master ---

type RegisterFramework struct {
	Name         string
	User         string
	ExecutorInfo sched.ExecutorInfo
}

func (RegisterFramework) Kind() MessageKind { return KindRegisterFramework }

type ReregisterFramework struct {
	FrameworkID  sched.FrameworkID
	Name         string
	User         string
	ExecutorInfo sched.ExecutorInfo
}

func (ReregisterFramework) Kind() MessageKind { return KindReregisterFramework }

type UnregisterFramework struct {
	FrameworkID sched.FrameworkID
}

func (UnregisterFramework) Kind() MessageKind { return KindUnregisterFramework }

type SlotOfferReply struct {
	FrameworkID sched.FrameworkID
	OfferID     sched.OfferID
	Tasks       []sched.TaskDescription
	Params      map[string]string
}

func (SlotOfferReply) Kind() MessageKind { return KindSlotOfferReply }

type FTSlotOfferReply struct {
	FTID        string
	Origin      actor.PID
	FrameworkID sched.FrameworkID
	OfferID     sched.OfferID
	Tasks       []sched.TaskDescription
	Params      map[string]string
}

func (FTSlotOfferReply) Kind() MessageKind { return KindFTSlotOfferReply }

type KillTask struct {
	FrameworkID sched.FrameworkID
	TaskID      sched.TaskID
}

func (KillTask) Kind() MessageKind { return KindKillTask }

type ReviveOffers struct {
	FrameworkID sched.FrameworkID
}

func (ReviveOffers) Kind() MessageKind { return KindReviveOffers }

type FrameworkMessageOut struct {
	FrameworkID sched.FrameworkID
	Message     sched.FrameworkMessage
}

func (FrameworkMessageOut) Kind() MessageKind { return KindFrameworkMessage }

type FTFrameworkMessageOut struct {
	FTID        string
	Origin      actor.PID
	FrameworkID sched.FrameworkID
	Message     sched.FrameworkMessage
}

func (FTFrameworkMessageOut) Kind() MessageKind { return KindFTFrameworkMessage }

// --- Master -> Framework ---

type RegisterReply struct {
	FrameworkID sched.FrameworkID
}

func (RegisterReply) Kind() MessageKind { return KindRegisterReply }

type SlotOffer struct {
	OfferID sched.OfferID
	Offers  []sched.SlaveOffer
}

func (SlotOffer) Kind() MessageKind { return KindSlotOffer }

type RescindOffer struct {
	OfferID sched.OfferID
}

func (RescindOffer) Kind() MessageKind { return KindRescindOffer }

type StatusUpdate struct {
	Status sched.TaskStatus
}

func (StatusUpdate) Kind() MessageKind { return KindStatusUpdate }

type FTStatusUpdate struct {
	FTID   string
	Origin actor.PID
	Status sched.TaskStatus
}

func (FTStatusUpdate) Kind() MessageKind { return KindFTStatusUpdate }

type FrameworkMessageIn struct {
	Message sched.FrameworkMessage
}

func (FrameworkMessageIn) Kind() MessageKind { return KindFrameworkMessage }

type FTFrameworkMessageIn struct {
	FTID    string
	Origin  actor.PID
	Message sched.FrameworkMessage
}

func (FTFrameworkMessageIn) Kind() MessageKind { return KindFTFrameworkMessage }

type LostSlave struct {
	SlaveID sched.SlaveID
}

func (LostSlave) Kind() MessageKind { return KindLostSlave }

type Error struct {
	Code    int
	Message string
}

func (Error) Kind() MessageKind { return KindError }

// --- Reliable-layer acknowledgement, either direction ---

type RelayAck struct {
	FTID   string
	Sender actor.PID
}

func (RelayAck) Kind() MessageKind { return KindRelayAck }

func (e Error) String() string {
	return fmt.Sprintf("Error{code:%d msg:%s}", e.Code, e.Message)
}
