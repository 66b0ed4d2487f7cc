package sched

// Scheduler is the user-supplied collaborator invoked by the scheduler
// actor. Every method is called synchronously from the actor's single
// dispatch goroutine; implementations must not block indefinitely, or
// every other event stalls behind it.
type Scheduler interface {
	// Registered is invoked once the master has assigned this framework
	// an id (first REGISTER_REPLY).
	Registered(driver Driver, frameworkID FrameworkID)

	// ResourceOffer is invoked with a batch of slave offers under a
	// single OfferID. Reply via driver.ReplyToOffer.
	ResourceOffer(driver Driver, offerID OfferID, offers []SlaveOffer)

	// OfferRescinded is invoked when an outstanding offer is withdrawn,
	// or when a master failover invalidates it.
	OfferRescinded(driver Driver, offerID OfferID)

	// StatusUpdate is invoked for every inbound (and synthesized LOST)
	// task status, at most once per delivery.
	StatusUpdate(driver Driver, status TaskStatus)

	// FrameworkMessage is invoked for messages arriving from a slave or
	// relayed through the master.
	FrameworkMessage(driver Driver, message FrameworkMessage)

	// SlaveLost is invoked when a slave this framework has tasks on
	// disappears.
	SlaveLost(driver Driver, slaveID SlaveID)

	// Error is invoked for protocol errors, connectivity loss in
	// non-fault-tolerant mode, and delivery give-up.
	Error(driver Driver, code int, message string)

	// GetFrameworkName is read by the actor at (re)registration time.
	GetFrameworkName(driver Driver) string

	// GetExecutorInfo is read by the actor at (re)registration time.
	GetExecutorInfo(driver Driver) ExecutorInfo
}
