package flag

import (
	"github.com/alecthomas/kong"

	"github.com/gosma-dev/gosma/mm"
	"github.com/gosma-dev/gosma/probe"
	"github.com/gosma-dev/gosma/sim"
)

// Parse parses os.Args and runs the selected command.
func Parse() error {
	c := CLI{}

	programName := "gosma"
	programDesc := "gosma relocates secure-compartment pages in monitor-backed batches"

	ctx := kong.Parse(&c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	err := ctx.Run()

	return err
}

func (p *ProbeCMD) Run() error {
	return probe.MonitorDevice(p.Dev)
}

func (r *RunCMD) Run() error {
	memSize, err := ParseSize(r.MemSize, "m")
	if err != nil {
		return err
	}

	c := sim.Config{
		Dev:              r.Dev,
		Sim:              r.Sim,
		SecVMID:          r.SecVMID,
		Pages:            r.Pages,
		CompartmentPages: memSize / mm.PageSize,
		Faults:           r.Faults,
	}

	s, err := sim.New(c)
	if err != nil {
		return err
	}

	return s.Run()
}
