package actor_test

import (
	"testing"
	"time"

	"github.com/twitter/nexosched/actor"
)

func TestSendReceive(t *testing.T) {
	sys := actor.NewSystem("test")
	box := sys.Spawn("scheduler", 4)

	if err := sys.Send(box.PID(), actor.PID{}, "hello"); err != nil {
		t.Fatal(err)
	}

	env, ok := box.Receive(time.Second)
	if !ok {
		t.Fatal("expected a message, got timeout")
	}
	if env.Body != "hello" {
		t.Errorf("got %v, want hello", env.Body)
	}
}

func TestReceiveTimeout(t *testing.T) {
	sys := actor.NewSystem("test")
	box := sys.Spawn("idle", 4)

	_, ok := box.Receive(10 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout, got a message")
	}
}

func TestOrderingPreserved(t *testing.T) {
	sys := actor.NewSystem("test")
	box := sys.Spawn("ordered", 8)

	for i := 0; i < 5; i++ {
		if err := sys.Send(box.PID(), actor.PID{}, i); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		env, ok := box.Receive(time.Second)
		if !ok {
			t.Fatalf("message %d: timed out", i)
		}
		if env.Body != i {
			t.Errorf("message %d: got %v", i, env.Body)
		}
	}
}

func TestLinkDeliversExitOnTerminate(t *testing.T) {
	sys := actor.NewSystem("test")
	target := sys.Spawn("target", 2)
	watcher := sys.Spawn("watcher", 2)

	sys.Link(watcher.PID(), target.PID())
	sys.Terminate("target", nil)

	env, ok := watcher.Receive(time.Second)
	if !ok {
		t.Fatal("expected an Exit message")
	}
	exit, ok := env.Body.(actor.Exit)
	if !ok {
		t.Fatalf("got %T, want actor.Exit", env.Body)
	}
	if exit.Who.Name != "target" {
		t.Errorf("got exit for %v, want target", exit.Who)
	}
}

func TestSendToRemoteAddrFails(t *testing.T) {
	sys := actor.NewSystem("here")
	remote := actor.PID{Name: "x", Addr: "there"}
	if err := sys.Send(remote, actor.PID{}, "nope"); err == nil {
		t.Fatal("expected error sending to a non-local pid")
	}
}

func TestWaitReturnsAfterTerminate(t *testing.T) {
	sys := actor.NewSystem("test")
	sys.Spawn("worker", 2)

	done := make(chan struct{})
	go func() {
		sys.Wait("worker")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Terminate")
	case <-time.After(20 * time.Millisecond):
	}

	sys.Terminate("worker", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Terminate")
	}
}
