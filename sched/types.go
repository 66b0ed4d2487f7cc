// Package sched defines the framework-side data model shared between the
// scheduler actor, the driver façade, and user code: opaque ids, offers,
// task descriptions and statuses, and the Scheduler callback interface a
// framework implements.
package sched

import (
	"fmt"

	"github.com/twitter/nexosched/actor"
)

// FrameworkID is assigned by the master on first registration and is
// immutable for the life of the driver thereafter.
type FrameworkID string

// OfferID is minted by the master; it is erased from the offer cache on
// rescind or on a reply that consumes it.
type OfferID string

// SlaveID is opaque and first observed via an offer.
type SlaveID string

// TaskID identifies a single task launch.
type TaskID string

// SlaveOffer is one slave's resource grant inside a SLOT_OFFER.
type SlaveOffer struct {
	SlaveID  SlaveID
	SlavePID actor.PID
	Host     string
	Params   map[string]string
}

func (o SlaveOffer) String() string {
	return fmt.Sprintf("SlaveOffer{slave:%s host:%s pid:%s}", o.SlaveID, o.Host, o.SlavePID)
}

// TaskDescription is supplied by user code in a reply to an offer.
type TaskDescription struct {
	TaskID  TaskID
	SlaveID SlaveID
	Name    string
	Params  map[string]string
	Arg     []byte
}

func (t TaskDescription) String() string {
	return fmt.Sprintf("TaskDescription{task:%s slave:%s name:%s}", t.TaskID, t.SlaveID, t.Name)
}

// TaskState is the lifecycle state carried by a TaskStatus update.
type TaskState int

const (
	TaskStaging TaskState = iota
	TaskStarting
	TaskRunning
	TaskFinished
	TaskFailed
	TaskKilled
	TaskLost
)

func (s TaskState) String() string {
	switch s {
	case TaskStaging:
		return "STAGING"
	case TaskStarting:
		return "STARTING"
	case TaskRunning:
		return "RUNNING"
	case TaskFinished:
		return "FINISHED"
	case TaskFailed:
		return "FAILED"
	case TaskKilled:
		return "KILLED"
	case TaskLost:
		return "LOST"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// TaskStatus is one inbound status update for a single task.
type TaskStatus struct {
	TaskID TaskID
	State  TaskState
	Data   []byte
}

func (s TaskStatus) String() string {
	return fmt.Sprintf("TaskStatus{task:%s state:%s}", s.TaskID, s.State)
}

// FrameworkMessage is an opaque payload exchanged directly with a slave,
// bypassing the master.
type FrameworkMessage struct {
	SlaveID SlaveID
	TaskID  TaskID
	Data    []byte
}

func (m FrameworkMessage) String() string {
	return fmt.Sprintf("FrameworkMessage{slave:%s task:%s len:%d}", m.SlaveID, m.TaskID, len(m.Data))
}

// ExecutorInfo names the executor code the master should launch on a
// slave to run this framework's tasks.
type ExecutorInfo struct {
	URI    string
	Name   string
	Params map[string]string
}

// Driver is an opaque reference to the driver façade passed into every
// Scheduler callback. Its methods are intentionally not part of this
// interface to avoid an import cycle between sched and driver; callers
// type-assert to *driver.SchedulerDriver (or a narrower interface of their
// own) when they need to call back into it.
type Driver interface{}
