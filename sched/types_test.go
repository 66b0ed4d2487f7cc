package sched_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/twitter/nexosched/sched"
)

func TestTaskStateString(t *testing.T) {
	cases := map[sched.TaskState]string{
		sched.TaskStaging:  "STAGING",
		sched.TaskRunning:  "RUNNING",
		sched.TaskLost:     "LOST",
		sched.TaskState(99): "TaskState(99)",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestTaskStatusString(t *testing.T) {
	s := sched.TaskStatus{TaskID: "t1", State: sched.TaskLost}
	assert.Contains(t, s.String(), "t1")
	assert.Contains(t, s.String(), "LOST")
}
