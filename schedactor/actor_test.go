package schedactor_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/detector"
	"github.com/twitter/nexosched/sched"
	"github.com/twitter/nexosched/schedactor"
	"github.com/twitter/nexosched/wire"
)

type offerEvent struct {
	oid    sched.OfferID
	offers []sched.SlaveOffer
}

type errorEvent struct {
	code int
	msg  string
}

type fakeScheduler struct {
	registeredCh chan sched.FrameworkID
	offerCh      chan offerEvent
	rescindCh    chan sched.OfferID
	statusCh     chan sched.TaskStatus
	messageCh    chan sched.FrameworkMessage
	slaveLostCh  chan sched.SlaveID
	errorCh      chan errorEvent
	name         string
}

func newFakeScheduler(name string) *fakeScheduler {
	return &fakeScheduler{
		registeredCh: make(chan sched.FrameworkID, 4),
		offerCh:      make(chan offerEvent, 4),
		rescindCh:    make(chan sched.OfferID, 4),
		statusCh:     make(chan sched.TaskStatus, 8),
		messageCh:    make(chan sched.FrameworkMessage, 4),
		slaveLostCh:  make(chan sched.SlaveID, 4),
		errorCh:      make(chan errorEvent, 4),
		name:         name,
	}
}

func (f *fakeScheduler) Registered(driver sched.Driver, frameworkID sched.FrameworkID) {
	f.registeredCh <- frameworkID
}
func (f *fakeScheduler) ResourceOffer(driver sched.Driver, offerID sched.OfferID, offers []sched.SlaveOffer) {
	f.offerCh <- offerEvent{offerID, offers}
}
func (f *fakeScheduler) OfferRescinded(driver sched.Driver, offerID sched.OfferID) {
	f.rescindCh <- offerID
}
func (f *fakeScheduler) StatusUpdate(driver sched.Driver, status sched.TaskStatus) {
	f.statusCh <- status
}
func (f *fakeScheduler) FrameworkMessage(driver sched.Driver, message sched.FrameworkMessage) {
	f.messageCh <- message
}
func (f *fakeScheduler) SlaveLost(driver sched.Driver, slaveID sched.SlaveID) {
	f.slaveLostCh <- slaveID
}
func (f *fakeScheduler) Error(driver sched.Driver, code int, message string) {
	f.errorCh <- errorEvent{code, message}
}
func (f *fakeScheduler) GetFrameworkName(driver sched.Driver) string { return f.name }
func (f *fakeScheduler) GetExecutorInfo(driver sched.Driver) sched.ExecutorInfo {
	return sched.ExecutorInfo{Name: "exec"}
}

// runFakeMaster answers RegisterFramework and ReregisterFramework with a
// RegisterReply and records every other envelope it receives onto recv,
// until closed is closed.
func runFakeMaster(box *actor.Mailbox, sys *actor.System, frameworkID sched.FrameworkID, recv chan actor.Envelope, closed chan struct{}) {
	for {
		select {
		case <-closed:
			return
		default:
		}
		env, ok := box.Receive(50 * time.Millisecond)
		if !ok {
			continue
		}
		switch body := env.Body.(type) {
		case wire.RegisterFramework:
			_ = sys.Send(env.From, box.PID(), wire.RegisterReply{FrameworkID: frameworkID})
		case wire.ReregisterFramework:
			_ = sys.Send(env.From, box.PID(), wire.RegisterReply{FrameworkID: body.FrameworkID})
			select {
			case recv <- env:
			default:
			}
		default:
			select {
			case recv <- env:
			default:
			}
		}
	}
}

func newTestActor(t *testing.T, fs *fakeScheduler, cfg schedactor.Config) (*schedactor.Actor, *actor.System, chan actor.Envelope, func()) {
	sys := actor.NewSystem("localhost:9999")
	masterBox := sys.Spawn("master", 16)
	recv := make(chan actor.Envelope, 16)
	closed := make(chan struct{})
	go runFakeMaster(masterBox, sys, "fw-1", recv, closed)

	det, err := detector.ParseMasterSpec(sys, "nexus://master@localhost:9999")
	require.NoError(t, err)
	a := schedactor.New(sys, cfg, det, fs, "test-driver", nil)
	a.Start()

	cleanup := func() {
		a.RequestTerminate()
		a.Wait()
		close(closed)
		masterBox.Close()
	}
	return a, sys, recv, cleanup
}

func awaitRegistered(t *testing.T, fs *fakeScheduler) {
	t.Helper()
	select {
	case <-fs.registeredCh:
	case <-time.After(2 * time.Second):
		t.Fatal("never registered")
	}
}

func TestRegistersOnNewMasterDetected(t *testing.T) {
	fs := newFakeScheduler("my-framework")
	_, _, _, cleanup := newTestActor(t, fs, schedactor.Config{})
	defer cleanup()

	select {
	case fid := <-fs.registeredCh:
		assert.EqualValues(t, "fw-1", fid)
	case <-time.After(2 * time.Second):
		t.Fatal("never registered")
	}
}

func TestResourceOfferAndReplyRoutesTasksToSlaves(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, sys, recv, cleanup := newTestActor(t, fs, schedactor.Config{})
	defer cleanup()
	awaitRegistered(t, fs)

	slaveBox := sys.Spawn("slave-1", 4)
	defer slaveBox.Close()

	offer := wire.SlotOffer{
		OfferID: "o1",
		Offers: []sched.SlaveOffer{
			{SlaveID: "s1", SlavePID: slaveBox.PID(), Host: "h1"},
		},
	}
	require.NoError(t, sys.Send(a.PID(), actor.PID{Name: "master", Addr: "localhost:9999"}, offer))

	select {
	case got := <-fs.offerCh:
		assert.EqualValues(t, "o1", got.oid)
	case <-time.After(2 * time.Second):
		t.Fatal("resource offer never delivered")
	}

	reply := wire.SlotOfferReply{
		OfferID: "o1",
		Tasks:   []sched.TaskDescription{{TaskID: "t1", SlaveID: "s1", Name: "task"}},
	}
	require.NoError(t, sys.Send(a.PID(), a.PID(), reply))

	select {
	case env := <-recv:
		fwd, ok := env.Body.(wire.SlotOfferReply)
		require.True(t, ok, "master should receive the forwarded slot offer reply, got %T", env.Body)
		assert.EqualValues(t, "fw-1", fwd.FrameworkID, "the actor fills in the framework id")
	case <-time.After(2 * time.Second):
		t.Fatal("slot offer reply never forwarded to master")
	}

	fm := sched.FrameworkMessage{SlaveID: "s1", TaskID: "t1", Data: []byte("hi")}
	require.NoError(t, sys.Send(a.PID(), a.PID(), fm))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env, ok := slaveBox.Receive(50 * time.Millisecond)
		if ok {
			got, ok := env.Body.(wire.FrameworkMessageOut)
			require.True(t, ok, "slave should receive a framework message, got %T", env.Body)
			assert.Equal(t, "hi", string(got.Message.Data))
			return
		}
	}
	t.Fatal("framework message never forwarded to slave")
}

func TestRescindErasesOfferAndNotifiesScheduler(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, sys, _, cleanup := newTestActor(t, fs, schedactor.Config{})
	defer cleanup()
	awaitRegistered(t, fs)

	require.NoError(t, sys.Send(a.PID(), actor.PID{}, wire.RescindOffer{OfferID: "o2"}))

	select {
	case oid := <-fs.rescindCh:
		assert.EqualValues(t, "o2", oid)
	case <-time.After(2 * time.Second):
		t.Fatal("rescind never delivered")
	}
}

func TestFailoverReregistersAndRescindsStaleOffers(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, sys, _, cleanup := newTestActor(t, fs, schedactor.Config{IsFT: true})
	defer cleanup()
	awaitRegistered(t, fs)

	require.NoError(t, sys.Send(a.PID(), actor.PID{}, wire.SlotOffer{
		OfferID: "o1",
		Offers:  []sched.SlaveOffer{{SlaveID: "s1", SlavePID: actor.PID{Name: "slave-1", Addr: "localhost:9999"}}},
	}))
	select {
	case <-fs.offerCh:
	case <-time.After(2 * time.Second):
		t.Fatal("offer never delivered")
	}

	m2Box := sys.Spawn("master-2", 16)
	recv2 := make(chan actor.Envelope, 16)
	closed2 := make(chan struct{})
	go runFakeMaster(m2Box, sys, "fw-1", recv2, closed2)
	defer func() { close(closed2); m2Box.Close() }()

	require.NoError(t, sys.Send(a.PID(), actor.PID{}, detector.NewMaster{Epoch: "e1", PID: m2Box.PID()}))

	select {
	case oid := <-fs.rescindCh:
		assert.EqualValues(t, "o1", oid, "an offer from the old epoch must be rescinded on failover")
	case <-time.After(2 * time.Second):
		t.Fatal("stale offer never rescinded after failover")
	}

	select {
	case env := <-recv2:
		rr, ok := env.Body.(wire.ReregisterFramework)
		require.True(t, ok, "new master should receive a reregistration, got %T", env.Body)
		assert.EqualValues(t, "fw-1", rr.FrameworkID)
	case <-time.After(2 * time.Second):
		t.Fatal("never reregistered with the new master")
	}
}

func TestFTStatusUpdateDedupesButAlwaysAcks(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, sys, recv, cleanup := newTestActor(t, fs, schedactor.Config{IsFT: true})
	defer cleanup()
	awaitRegistered(t, fs)

	masterPid := actor.PID{Name: "master", Addr: "localhost:9999"}
	update := wire.FTStatusUpdate{
		FTID:   "ft_9",
		Origin: masterPid,
		Status: sched.TaskStatus{TaskID: "t1", State: sched.TaskRunning},
	}
	require.NoError(t, sys.Send(a.PID(), masterPid, update))
	require.NoError(t, sys.Send(a.PID(), masterPid, update))

	select {
	case st := <-fs.statusCh:
		assert.Equal(t, sched.TaskRunning, st.State)
	case <-time.After(2 * time.Second):
		t.Fatal("status update never delivered")
	}
	select {
	case st := <-fs.statusCh:
		t.Fatalf("duplicate status update delivered to the user: %v", st)
	case <-time.After(300 * time.Millisecond):
	}

	acks := 0
	deadline := time.Now().Add(2 * time.Second)
	for acks < 2 && time.Now().Before(deadline) {
		select {
		case env := <-recv:
			if ack, ok := env.Body.(wire.RelayAck); ok {
				assert.Equal(t, "ft_9", ack.FTID)
				acks++
			}
		case <-time.After(100 * time.Millisecond):
		}
	}
	assert.Equal(t, 2, acks, "every delivery is acked, duplicates included")
}

func TestFTReplyGiveUpSynthesizesLostStatuses(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, sys, _, cleanup := newTestActor(t, fs, schedactor.Config{IsFT: true, FTTimeout: 20 * time.Millisecond})
	defer cleanup()
	a.Messaging().SetRetryParams(1, 5*time.Millisecond)
	awaitRegistered(t, fs)

	require.NoError(t, sys.Send(a.PID(), actor.PID{}, wire.SlotOffer{
		OfferID: "o1",
		Offers:  []sched.SlaveOffer{{SlaveID: "s1", SlavePID: actor.PID{Name: "slave-1", Addr: "localhost:9999"}}},
	}))
	select {
	case <-fs.offerCh:
	case <-time.After(2 * time.Second):
		t.Fatal("offer never delivered")
	}

	reply := wire.SlotOfferReply{
		OfferID: "o1",
		Tasks: []sched.TaskDescription{
			{TaskID: "t1", SlaveID: "s1"},
			{TaskID: "t2", SlaveID: "s1"},
		},
	}
	require.NoError(t, sys.Send(a.PID(), a.PID(), reply))

	// The fake master records but never acks the reliable reply, so the
	// give-up listener must synthesize one LOST status per task.
	lost := map[sched.TaskID]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for len(lost) < 2 && time.Now().Before(deadline) {
		select {
		case st := <-fs.statusCh:
			assert.Equal(t, sched.TaskLost, st.State)
			assert.Empty(t, st.Data)
			lost[st.TaskID] = true
		case <-time.After(100 * time.Millisecond):
		}
	}
	assert.True(t, lost["t1"], "t1 should be reported LOST")
	assert.True(t, lost["t2"], "t2 should be reported LOST")
}

func TestFTFrameworkMessageGiveUpSurfacesError(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, sys, _, cleanup := newTestActor(t, fs, schedactor.Config{IsFT: true, FTTimeout: 20 * time.Millisecond})
	defer cleanup()
	a.Messaging().SetRetryParams(1, 5*time.Millisecond)
	awaitRegistered(t, fs)

	// A silent slave: its mailbox accepts messages but never acks.
	slaveBox := sys.Spawn("slave-1", 16)
	defer slaveBox.Close()

	require.NoError(t, sys.Send(a.PID(), actor.PID{}, wire.SlotOffer{
		OfferID: "o1",
		Offers:  []sched.SlaveOffer{{SlaveID: "s1", SlavePID: slaveBox.PID()}},
	}))
	select {
	case <-fs.offerCh:
	case <-time.After(2 * time.Second):
		t.Fatal("offer never delivered")
	}
	require.NoError(t, sys.Send(a.PID(), a.PID(), wire.SlotOfferReply{
		OfferID: "o1",
		Tasks:   []sched.TaskDescription{{TaskID: "t1", SlaveID: "s1"}},
	}))

	require.NoError(t, sys.Send(a.PID(), a.PID(), sched.FrameworkMessage{SlaveID: "s1", TaskID: "t1", Data: []byte("hi")}))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-fs.errorCh:
			if strings.Contains(ev.msg, "undelivered") {
				assert.Equal(t, -1, ev.code)
				assert.Contains(t, ev.msg, "s1")
				return
			}
		case <-time.After(100 * time.Millisecond):
		}
	}
	t.Fatal("framework-message give-up never surfaced as an error")
}

func TestMasterExitSurfacesConnectionError(t *testing.T) {
	fs := newFakeScheduler("fw")
	_, sys, _, cleanup := newTestActor(t, fs, schedactor.Config{})
	defer cleanup()
	awaitRegistered(t, fs)

	// Breaking the master link in direct mode is fatal to the session.
	sys.Terminate("master", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-fs.errorCh:
			if ev.msg == "Connection to master failed" {
				assert.Equal(t, -1, ev.code)
				return
			}
		case <-time.After(100 * time.Millisecond):
		}
	}
	t.Fatal("master exit never surfaced as a connection error")
}

func TestUnknownMessageSurfacesAsError(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, sys, _, cleanup := newTestActor(t, fs, schedactor.Config{})
	defer cleanup()

	require.NoError(t, sys.Send(a.PID(), actor.PID{}, fmt.Errorf("not a recognized wire message")))

	select {
	case ev := <-fs.errorCh:
		assert.Equal(t, -1, ev.code)
	case <-time.After(2 * time.Second):
		t.Fatal("unknown message never surfaced as an error")
	}
}

func TestTerminateObservedWithinOneTick(t *testing.T) {
	fs := newFakeScheduler("fw")
	a, _, _, cleanup := newTestActor(t, fs, schedactor.Config{FTTimeout: 50 * time.Millisecond})
	defer cleanup()
	awaitRegistered(t, fs)

	done := make(chan struct{})
	go func() {
		a.Wait()
		close(done)
	}()

	a.RequestTerminate()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("actor did not exit within a tick of RequestTerminate")
	}
}
