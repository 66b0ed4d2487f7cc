package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/twitter/nexosched/common/log"
	"github.com/twitter/nexosched/driver"
	"github.com/twitter/nexosched/sched"
)

type runCmd struct {
	numTasks int
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "run a demo framework: launch tasks on offers until all have finished",
	}
	r.Flags().IntVar(&c.numTasks, "tasks", 3, "number of demo tasks to launch")
	return r
}

func (c *runCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	s := newDemoScheduler(cl.frameworkName, c.numTasks)
	d := driver.New(driver.Config{MasterSpec: cl.masterSpec}, s, cl.stat)
	s.driver = d

	if rc := d.Start(); rc != 0 {
		if err := d.LastError(); err != nil {
			return err
		}
		return fmt.Errorf("driver start failed")
	}
	cl.serveAdmin(d)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("caught %v, stopping driver", sig)
			d.Stop()
		case <-s.done:
			d.Stop()
		}
	}()

	d.Join()
	log.Infof("done: %d launched, %d finished, %d failed or lost",
		s.launched, s.finished, s.failed)
	if s.failed > 0 {
		return fmt.Errorf("%d of %d tasks failed or were lost", s.failed, s.launched)
	}
	return nil
}

// demoScheduler launches numTasks single-shot tasks, one batch per
// offer, and closes done once every launched task has reached a
// terminal state.
type demoScheduler struct {
	name     string
	numTasks int

	driver *driver.SchedulerDriver
	done   chan struct{}

	// Mutated only from driver callbacks, which the scheduler actor
	// serializes onto one goroutine.
	launched   int
	finished   int
	failed     int
	doneClosed bool
	terminal   map[sched.TaskID]bool
}

func newDemoScheduler(name string, numTasks int) *demoScheduler {
	return &demoScheduler{
		name:     name,
		numTasks: numTasks,
		done:     make(chan struct{}),
		terminal: make(map[sched.TaskID]bool),
	}
}

func (s *demoScheduler) Registered(d sched.Driver, fid sched.FrameworkID) {
	log.WithField("fid", fid).Info("registered")
}

func (s *demoScheduler) ResourceOffer(d sched.Driver, oid sched.OfferID, offers []sched.SlaveOffer) {
	remaining := s.numTasks - s.launched
	if remaining <= 0 {
		return
	}

	var tasks []sched.TaskDescription
	for _, o := range offers {
		if remaining <= 0 {
			break
		}
		tid := sched.TaskID(fmt.Sprintf("demo-t%d", s.launched+len(tasks)+1))
		tasks = append(tasks, sched.TaskDescription{
			TaskID:  tid,
			SlaveID: o.SlaveID,
			Name:    "demo-task",
			Params:  map[string]string{"cpus": "1", "mem": "32"},
			Arg:     []byte("sleep 1"),
		})
		remaining--
	}
	if len(tasks) == 0 {
		return
	}
	log.WithField("oid", oid).Infof("launching %d tasks", len(tasks))
	s.driver.ReplyToOffer(oid, tasks, nil)
	s.launched += len(tasks)
}

func (s *demoScheduler) StatusUpdate(d sched.Driver, status sched.TaskStatus) {
	log.WithField("task", status.TaskID).Infof("status: %s", status.State)
	if s.terminal[status.TaskID] {
		return
	}
	switch status.State {
	case sched.TaskFinished:
		s.terminal[status.TaskID] = true
		s.finished++
	case sched.TaskFailed, sched.TaskKilled, sched.TaskLost:
		s.terminal[status.TaskID] = true
		s.failed++
	default:
		return
	}
	if !s.doneClosed && s.launched >= s.numTasks && s.finished+s.failed >= s.launched {
		s.doneClosed = true
		close(s.done)
	}
}

func (s *demoScheduler) OfferRescinded(d sched.Driver, oid sched.OfferID) {
	log.WithField("oid", oid).Info("offer rescinded")
}

func (s *demoScheduler) FrameworkMessage(d sched.Driver, m sched.FrameworkMessage) {
	log.WithField("slave", m.SlaveID).Infof("message: %s", string(m.Data))
}

func (s *demoScheduler) SlaveLost(d sched.Driver, sid sched.SlaveID) {
	log.WithField("slave", sid).Warn("slave lost")
}

func (s *demoScheduler) Error(d sched.Driver, code int, message string) {
	log.Errorf("driver error %d: %s", code, message)
}

func (s *demoScheduler) GetFrameworkName(sched.Driver) string { return s.name }
func (s *demoScheduler) GetExecutorInfo(sched.Driver) sched.ExecutorInfo {
	return sched.ExecutorInfo{Name: "demo-executor", URI: "file:///dev/null"}
}
