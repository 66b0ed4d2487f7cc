package main

import (
	"os"

	"github.com/twitter/nexosched/common/errors"
	"github.com/twitter/nexosched/common/log"
	"github.com/twitter/nexosched/common/log/hooks"
)

// CLI binary demonstrating the nexosched driver against a master.
//	Supported commands: (see "-h" for all options)
//		run [--tasks N]
//		kill-task --task <id>
//		revive-offers
//		send-message --slave <id> --data <payload>
//	Global flags:
//		--master [<spec>: local, localquiet, nexus://..., zoo://..., or host:port]
//		--framework-name [name reported to the master]
//		--log-level [<error|info|debug> level and above should be logged]

func main() {
	log.AddHook(hooks.NewContextHook())

	cl := newCLI()
	if err := cl.Exec(); err != nil {
		log.Errorf("nexosched-demo: %v", err)
		if ec, ok := err.(*errors.ExitCodeError); ok {
			os.Exit(int(ec.GetExitCode()))
		}
		os.Exit(1)
	}
}
