//go:build windows

package ensemble

import "os"

func defaultInterruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
