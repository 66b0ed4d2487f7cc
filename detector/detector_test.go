package detector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/detector"
)

func TestParseMasterSpecDirectAddress(t *testing.T) {
	d, err := detector.ParseMasterSpec(nil, "10.0.0.1:5050")
	require.NoError(t, err)
	defer d.Close()

	ev := <-d.Events()
	nm, ok := ev.(detector.NewMaster)
	require.True(t, ok)
	assert.Equal(t, actor.PID{Name: "master", Addr: "10.0.0.1:5050"}, nm.PID)
}

func TestParseMasterSpecNamedDirectAddress(t *testing.T) {
	d, err := detector.ParseMasterSpec(nil, "nexus://sched@10.0.0.1:5050")
	require.NoError(t, err)
	defer d.Close()

	ev := <-d.Events()
	nm := ev.(detector.NewMaster)
	assert.Equal(t, actor.PID{Name: "sched", Addr: "10.0.0.1:5050"}, nm.PID)
}

func TestParseMasterSpecInvalidAddressIsFatal(t *testing.T) {
	_, err := detector.ParseMasterSpec(nil, "not a valid address")
	assert.Error(t, err)
}

func TestParseMasterSpecLocal(t *testing.T) {
	sys := actor.NewSystem("localhost:1")
	d, err := detector.ParseMasterSpec(sys, "local")
	require.NoError(t, err)
	defer d.Close()

	ev := <-d.Events()
	nm := ev.(detector.NewMaster)
	assert.Equal(t, "local-0", nm.Epoch)
	assert.Equal(t, sys.Addr(), nm.PID.Addr, "local master must live on the caller's system")
}

func TestParseMasterSpecLocalQuiet(t *testing.T) {
	sys := actor.NewSystem("localhost:1")
	d, err := detector.ParseMasterSpec(sys, "localquiet")
	require.NoError(t, err)
	defer d.Close()

	ev := <-d.Events()
	_, ok := ev.(detector.NewMaster)
	assert.True(t, ok)
}

func TestParseMasterSpecZooRequiresHosts(t *testing.T) {
	_, err := detector.ParseMasterSpec(nil, "zoo:///only/a/path")
	assert.Error(t, err)
}

func TestParseMasterSpecZooDialsLazily(t *testing.T) {
	// clientv3.New does not block on connectivity, so this should
	// succeed even though nothing is listening on this address; Close
	// must not hang either.
	d, err := detector.ParseMasterSpec(nil, "zoo://127.0.0.1:1/nexus/master")
	require.NoError(t, err)
	require.NoError(t, d.Close())
}
