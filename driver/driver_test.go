package driver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/nexosched/driver"
	"github.com/twitter/nexosched/sched"
)

type recordingScheduler struct {
	registeredCh chan sched.FrameworkID
	errorCh      chan string
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{
		registeredCh: make(chan sched.FrameworkID, 4),
		errorCh:      make(chan string, 4),
	}
}

func (s *recordingScheduler) Registered(d sched.Driver, frameworkID sched.FrameworkID) {
	s.registeredCh <- frameworkID
}
func (s *recordingScheduler) ResourceOffer(sched.Driver, sched.OfferID, []sched.SlaveOffer) {}
func (s *recordingScheduler) OfferRescinded(sched.Driver, sched.OfferID)                    {}
func (s *recordingScheduler) StatusUpdate(sched.Driver, sched.TaskStatus)                   {}
func (s *recordingScheduler) FrameworkMessage(sched.Driver, sched.FrameworkMessage)          {}
func (s *recordingScheduler) SlaveLost(sched.Driver, sched.SlaveID)                          {}
func (s *recordingScheduler) Error(d sched.Driver, code int, message string) {
	s.errorCh <- message
}
func (s *recordingScheduler) GetFrameworkName(sched.Driver) string { return "driver-test" }
func (s *recordingScheduler) GetExecutorInfo(sched.Driver) sched.ExecutorInfo {
	return sched.ExecutorInfo{Name: "exec"}
}

func TestStartIsIdempotentAndJoinUnblocksOnStop(t *testing.T) {
	sc := newRecordingScheduler()
	d := driver.New(driver.Config{MasterSpec: "localquiet"}, sc, nil)

	require.Equal(t, 0, d.Start())
	assert.Equal(t, -1, d.Start(), "starting twice must fail")

	select {
	case <-sc.registeredCh:
	case <-time.After(2 * time.Second):
		t.Fatal("never registered against the local stand-in master")
	}

	done := make(chan struct{})
	go func() {
		d.Join()
		close(done)
	}()

	assert.Equal(t, 0, d.Stop())
	assert.Equal(t, -1, d.Stop(), "stopping twice must be a no-op")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Join never unblocked after Stop")
	}
}

func TestStartFailsOnUnparseableMasterSpec(t *testing.T) {
	sc := newRecordingScheduler()
	d := driver.New(driver.Config{MasterSpec: "not a valid spec"}, sc, nil)

	assert.Equal(t, -1, d.Start())
	require.Error(t, d.LastError())

	select {
	case <-sc.errorCh:
	case <-time.After(time.Second):
		t.Fatal("scheduler.Error was never called for a bad master spec")
	}
}

func TestKillTaskAndReplyRequireRunning(t *testing.T) {
	sc := newRecordingScheduler()
	d := driver.New(driver.Config{MasterSpec: "localquiet"}, sc, nil)

	assert.Equal(t, -1, d.KillTask("t1"))
	assert.Equal(t, -1, d.ReplyToOffer("o1", nil, nil))
	assert.Equal(t, -1, d.ReviveOffers())
	assert.Equal(t, -1, d.SendFrameworkMessage(sched.FrameworkMessage{}))
}
