//go:build !windows

package ensemble

import (
	"os"
	"syscall"
)

func defaultInterruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
