// Package probe reports whether the host can issue secure monitor
// requests.
package probe

import (
	"fmt"
	"os"

	"github.com/gosma-dev/gosma/monitor"
)

// MonitorDevice opens the monitor device at path and reports the
// result. It issues no request: the remap call is only valid for a
// prepared batch.
func MonitorDevice(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no secure monitor device: %w", err)
	}

	if info.Mode()&os.ModeDevice == 0 {
		return fmt.Errorf("%s is not a device", path)
	}

	dev, err := monitor.OpenDevice(path)
	if err != nil {
		return err
	}

	defer dev.Close()

	fmt.Printf("secure monitor device %s: ok\n", path)

	return nil
}
