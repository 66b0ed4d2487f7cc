package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/nexosched/common/endpoints"
	"github.com/twitter/nexosched/common/errors"
	"github.com/twitter/nexosched/common/log"
	"github.com/twitter/nexosched/common/stats"
	"github.com/twitter/nexosched/driver"
	"github.com/twitter/nexosched/sched"
)

const registrationTimeout = 30 * time.Second

type command interface {
	registerFlags() *cobra.Command
	run(cl *cli, cmd *cobra.Command, args []string) error
}

type cli struct {
	rootCmd *cobra.Command

	masterSpec    string
	frameworkName string
	adminAddr     string
	logLevel      string

	stat stats.StatsReceiver
}

func newCLI() *cli {
	c := &cli{}
	c.rootCmd = &cobra.Command{
		Use:   "nexosched-demo",
		Short: "nexosched-demo is a demo framework built on the nexosched driver",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := logrus.ParseLevel(c.logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			c.stat = endpoints.MakeStatsReceiver("nexosched-demo")
			return nil
		},
	}
	c.rootCmd.PersistentFlags().StringVar(&c.masterSpec, "master", "local", "master spec: local, localquiet, nexus://..., zoo://..., or host:port")
	c.rootCmd.PersistentFlags().StringVar(&c.frameworkName, "framework-name", "nexosched-demo", "framework name reported to the master")
	c.rootCmd.PersistentFlags().StringVar(&c.adminAddr, "admin-addr", "", "serve /health, /admin/metrics.json and /metrics on this address (empty disables)")
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "error|warn|info|debug")

	c.addCmd(&runCmd{})
	c.addCmd(&killTaskCmd{})
	c.addCmd(&reviveOffersCmd{})
	c.addCmd(&sendMessageCmd{})
	return c
}

func (c *cli) Exec() error {
	return c.rootCmd.Execute()
}

func (c *cli) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(cc *cobra.Command, args []string) error {
		return cmd.run(c, cc, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

// serveAdmin starts the admin surface, if configured, wiring a gauge for
// the driver's pending reliable sends alongside the stats dump.
func (c *cli) serveAdmin(d *driver.SchedulerDriver) {
	if c.adminAddr == "" {
		return
	}
	srv := endpoints.NewAdminServer(c.adminAddr, c.stat)
	if err := srv.RegisterPromCollector(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "nexosched_reliable_pending", Help: "reliable sends awaiting an ack"},
		func() float64 { return float64(d.PendingReliableSends()) },
	)); err != nil {
		log.Warnf("could not register pending-sends gauge: %v", err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Warnf("admin server stopped: %v", err)
		}
	}()
}

// startAndAwaitRegistration runs a driver until the master has assigned
// a framework id, for the one-shot subcommands that just need a
// registered channel to issue a call on.
func (c *cli) startAndAwaitRegistration(s *oneShotScheduler) (*driver.SchedulerDriver, error) {
	d := driver.New(driver.Config{MasterSpec: c.masterSpec}, s, c.stat)
	s.name = c.frameworkName
	if rc := d.Start(); rc != 0 {
		if err := d.LastError(); err != nil {
			return nil, err
		}
		return nil, errors.NewError(fmt.Errorf("driver start failed"), errors.ConfigFailureExitCode)
	}
	c.serveAdmin(d)

	select {
	case <-s.registered:
		return d, nil
	case <-time.After(registrationTimeout):
		d.Stop()
		d.Join()
		return nil, errors.NewError(fmt.Errorf("not registered with %s after %s", c.masterSpec, registrationTimeout), errors.MasterConnectionFailureExitCode)
	}
}

// oneShotScheduler is the passive callback set used by the one-shot
// subcommands: it only tracks registration and logs everything else.
type oneShotScheduler struct {
	name       string
	registered chan struct{}
}

func newOneShotScheduler() *oneShotScheduler {
	return &oneShotScheduler{registered: make(chan struct{})}
}

func (s *oneShotScheduler) Registered(d sched.Driver, fid sched.FrameworkID) {
	log.WithField("fid", fid).Info("registered")
	close(s.registered)
}
func (s *oneShotScheduler) ResourceOffer(d sched.Driver, oid sched.OfferID, offers []sched.SlaveOffer) {
	log.WithField("oid", oid).Debugf("ignoring offer with %d slaves", len(offers))
}
func (s *oneShotScheduler) OfferRescinded(d sched.Driver, oid sched.OfferID) {}
func (s *oneShotScheduler) StatusUpdate(d sched.Driver, status sched.TaskStatus) {
	log.WithField("task", status.TaskID).Infof("status: %s", status.State)
}
func (s *oneShotScheduler) FrameworkMessage(d sched.Driver, m sched.FrameworkMessage) {
	log.WithField("slave", m.SlaveID).Infof("message: %s", string(m.Data))
}
func (s *oneShotScheduler) SlaveLost(d sched.Driver, sid sched.SlaveID) {
	log.WithField("slave", sid).Warn("slave lost")
}
func (s *oneShotScheduler) Error(d sched.Driver, code int, message string) {
	log.Errorf("driver error %d: %s", code, message)
}
func (s *oneShotScheduler) GetFrameworkName(sched.Driver) string { return s.name }
func (s *oneShotScheduler) GetExecutorInfo(sched.Driver) sched.ExecutorInfo {
	return sched.ExecutorInfo{Name: "demo-executor", URI: "file:///dev/null"}
}

type killTaskCmd struct {
	taskID string
}

func (c *killTaskCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "kill-task",
		Short: "register and request termination of a task",
	}
	r.Flags().StringVar(&c.taskID, "task", "", "task id to kill")
	return r
}

func (c *killTaskCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	if c.taskID == "" {
		return fmt.Errorf("--task is required")
	}
	s := newOneShotScheduler()
	d, err := cl.startAndAwaitRegistration(s)
	if err != nil {
		return err
	}
	defer func() { d.Stop(); d.Join() }()

	if rc := d.KillTask(sched.TaskID(c.taskID)); rc != 0 {
		return fmt.Errorf("kill-task failed with rc %d", rc)
	}
	// Give the status update a moment to come back before stopping.
	time.Sleep(time.Second)
	return nil
}

type reviveOffersCmd struct{}

func (c *reviveOffersCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "revive-offers",
		Short: "register and ask the master to resume sending offers",
	}
}

func (c *reviveOffersCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	s := newOneShotScheduler()
	d, err := cl.startAndAwaitRegistration(s)
	if err != nil {
		return err
	}
	defer func() { d.Stop(); d.Join() }()

	if rc := d.ReviveOffers(); rc != 0 {
		return fmt.Errorf("revive-offers failed with rc %d", rc)
	}
	time.Sleep(time.Second)
	return nil
}

type sendMessageCmd struct {
	slaveID string
	taskID  string
	data    string
}

func (c *sendMessageCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "send-message",
		Short: "register, accept one offer, and send a framework message to its slave",
	}
	r.Flags().StringVar(&c.slaveID, "slave", "", "slave id to target (empty means the first offered slave)")
	r.Flags().StringVar(&c.taskID, "task", "t-msg", "task id to tag the message with")
	r.Flags().StringVar(&c.data, "data", "ping", "message payload")
	return r
}

func (c *sendMessageCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	s := newMessagingScheduler(cl.frameworkName, c.slaveID, sched.TaskID(c.taskID), []byte(c.data))
	d := driver.New(driver.Config{MasterSpec: cl.masterSpec}, s, cl.stat)
	s.driver = d
	if rc := d.Start(); rc != 0 {
		if err := d.LastError(); err != nil {
			return err
		}
		return fmt.Errorf("driver start failed")
	}
	cl.serveAdmin(d)
	defer func() { d.Stop(); d.Join() }()

	select {
	case reply := <-s.echoed:
		log.Infof("slave answered: %s", string(reply))
		return nil
	case <-time.After(registrationTimeout):
		return errors.NewError(fmt.Errorf("no framework-message round trip within %s", registrationTimeout), errors.MasterConnectionFailureExitCode)
	}
}

// messagingScheduler drives the send-message flow: accept the first
// offer, launch the tagging task on its slave, and once the task runs,
// send the payload directly to that slave.
type messagingScheduler struct {
	name    string
	slaveID string
	taskID  sched.TaskID
	data    []byte

	driver     *driver.SchedulerDriver
	echoed     chan []byte
	sent       bool
	launchedOn sched.SlaveID
}

func newMessagingScheduler(name, slaveID string, taskID sched.TaskID, data []byte) *messagingScheduler {
	return &messagingScheduler{
		name:    name,
		slaveID: slaveID,
		taskID:  taskID,
		data:    data,
		echoed:  make(chan []byte, 1),
	}
}

func (s *messagingScheduler) Registered(d sched.Driver, fid sched.FrameworkID) {
	log.WithField("fid", fid).Info("registered")
}

func (s *messagingScheduler) ResourceOffer(d sched.Driver, oid sched.OfferID, offers []sched.SlaveOffer) {
	if s.sent || len(offers) == 0 {
		return
	}
	target := offers[0]
	if s.slaveID != "" {
		found := false
		for _, o := range offers {
			if string(o.SlaveID) == s.slaveID {
				target, found = o, true
				break
			}
		}
		if !found {
			return
		}
	}
	s.sent = true
	s.launchedOn = target.SlaveID
	s.driver.ReplyToOffer(oid, []sched.TaskDescription{
		{TaskID: s.taskID, SlaveID: target.SlaveID, Name: "demo-message-task"},
	}, nil)
}

func (s *messagingScheduler) StatusUpdate(d sched.Driver, status sched.TaskStatus) {
	log.WithField("task", status.TaskID).Infof("status: %s", status.State)
	if status.TaskID == s.taskID && status.State == sched.TaskRunning {
		s.driver.SendFrameworkMessage(sched.FrameworkMessage{
			SlaveID: s.launchedOn,
			TaskID:  s.taskID,
			Data:    s.data,
		})
	}
}

func (s *messagingScheduler) FrameworkMessage(d sched.Driver, m sched.FrameworkMessage) {
	select {
	case s.echoed <- m.Data:
	default:
	}
}

func (s *messagingScheduler) OfferRescinded(sched.Driver, sched.OfferID) {}
func (s *messagingScheduler) SlaveLost(d sched.Driver, sid sched.SlaveID) {
	log.WithField("slave", sid).Warn("slave lost")
}
func (s *messagingScheduler) Error(d sched.Driver, code int, message string) {
	log.Errorf("driver error %d: %s", code, message)
}
func (s *messagingScheduler) GetFrameworkName(sched.Driver) string { return s.name }
func (s *messagingScheduler) GetExecutorInfo(sched.Driver) sched.ExecutorInfo {
	return sched.ExecutorInfo{Name: "demo-executor", URI: "file:///dev/null"}
}
