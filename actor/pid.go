// Package actor provides the minimal addressable-actor abstraction the
// scheduler actor runs on: a PID, a mailbox with a blocking timed receive,
// and link/wait for exit notification. It has no opinion about what
// messages mean — that belongs to the schedactor and messaging packages.
package actor

import (
	"fmt"
)

// PID addresses a mailbox within a System. Two PIDs are equal iff they
// name the same mailbox in the same system address space.
type PID struct {
	Name string
	Addr string
}

func (p PID) String() string {
	if p.Name == "" && p.Addr == "" {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%s", p.Name, p.Addr)
}

// Empty reports whether p is the zero PID, the "no slave pid on record"
// sentinel.
func (p PID) Empty() bool {
	return p.Name == "" && p.Addr == ""
}

// Exit is delivered to a linked watcher when the target mailbox closes.
type Exit struct {
	Who PID
	Err error
}
