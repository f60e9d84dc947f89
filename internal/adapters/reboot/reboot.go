// Package reboot is the default ports.Reboot: it logs and exits the
// process, relinquishing control to whatever supervisor restarts it (the
// agent has no access to real hardware reset lines).
package reboot

import (
	"log"
	"os"
)

// ProcessReboot exits the current process with a distinct status code so a
// supervisor (systemd, a container runtime) can restart it.
type ProcessReboot struct {
	ExitCode int
}

// New returns a ProcessReboot with the conventional exit code 75 (EX_TEMPFAIL).
func New() *ProcessReboot {
	return &ProcessReboot{ExitCode: 75}
}

func (r *ProcessReboot) Reboot() {
	log.Printf("reboot requested by FOTA apply; exiting with code %d", r.ExitCode)
	os.Exit(r.ExitCode)
}
