package errors

type ExitCode int

const (
	// ConfigFailureExitCode covers an unparseable master spec or other
	// configuration error detected before the driver starts.
	ConfigFailureExitCode ExitCode = 70

	// DoubleStartExitCode is returned when Start is called on an already
	// running driver.
	DoubleStartExitCode ExitCode = 71

	// MasterConnectionFailureExitCode covers a direct-mode master loss
	// surfaced through the CLI rather than a Scheduler.Error callback.
	MasterConnectionFailureExitCode ExitCode = 80

	// DetectorFailureExitCode covers a fault-tolerant mode detector that
	// could not reach its coordination service at all.
	DetectorFailureExitCode ExitCode = 81

	CouldNotExecExitCode ExitCode = 110
)
