// Package flag defines the gosma command line.
package flag

import (
	"fmt"
	"strconv"
	"strings"
)

// CLI is the top-level command set.
type CLI struct {
	Run   RunCMD   `cmd:"" help:"Relocate one batch of a simulated secure compartment."`
	Probe ProbeCMD `cmd:"" help:"Probe for the secure monitor device."`
}

// RunCMD drives one relocation batch.
type RunCMD struct {
	Dev     string `short:"D" default:"/dev/sma" help:"path of the secure monitor device"`
	Sim     bool   `default:"true" negatable:"" help:"use the in-process monitor instead of the device"`
	SecVMID uint32 `short:"s" default:"1" help:"secure VM id of the simulated compartment"`
	Pages   int    `short:"n" default:"512" help:"pages in the batch (max 2048)"`
	MemSize string `short:"m" default:"8M" help:"compartment size: as number[gGmMkK], defaults to M"`
	Faults  int    `short:"f" default:"2" help:"concurrent guest-fault injectors"`
}

// ProbeCMD checks monitor availability.
type ProbeCMD struct {
	Dev string `short:"D" default:"/dev/sma" help:"path of the secure monitor device"`
}

// ParseSize parses a size string as number[gGmMkK]. The multiplier is
// optional, and if not set, the unit passed in is used. The number can
// be any base and size.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	switch unit {
	case "G", "g":
		return int(amt) << 30, nil
	case "M", "m":
		return int(amt) << 20, nil
	case "K", "k":
		return int(amt) << 10, nil
	case "":
		return int(amt), nil
	}

	return -1, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
}
