// Package sim drives a full relocation batch against a simulated
// secure compartment: an in-memory address space, a destination
// region, and (by default) an in-process monitor. It exists to
// exercise the protocol end to end from the command line, including
// concurrent guest faults against the migration window.
package sim

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gosma-dev/gosma/migrate"
	"github.com/gosma-dev/gosma/mm"
	"github.com/gosma-dev/gosma/monitor"
)

var errBadConfig = errors.New("invalid simulation config")

// Config describes one simulated relocation run.
type Config struct {
	// Dev is the secure monitor device path, used when Sim is false.
	Dev string

	// Sim selects the in-process monitor over the device.
	Sim bool

	// SecVMID is the simulated compartment's id.
	SecVMID uint32

	// Pages is the batch size; CompartmentPages is how many pages the
	// compartment maps in total (the batch is its head).
	Pages            int
	CompartmentPages int

	// Faults is how many goroutines hammer the compartment with guest
	// accesses while the batch runs.
	Faults int
}

// Sim holds one wired-up simulation.
type Sim struct {
	Config

	space  *mm.AddressSpace
	window *migrate.Window
	region *mm.Region
	src    []*mm.Page
	mon    monitor.Caller
	mclose func() error
}

const (
	srcBase = mm.PFN(0x40000)
	dstBase = mm.PFN(0x48000)

	// ipnBase keeps guest frame numbers away from zero, which marks
	// unused entries in the monitor's address table.
	ipnBase = uint64(0x1000)
)

// New builds the compartment and wires the monitor channel.
func New(c Config) (*Sim, error) {
	if c.SecVMID == 0 || c.Pages <= 0 || c.Pages > mm.BatchPages {
		return nil, fmt.Errorf("%w: secVMID %d, %d pages", errBadConfig, c.SecVMID, c.Pages)
	}

	if c.CompartmentPages < c.Pages {
		c.CompartmentPages = c.Pages
	}

	s := &Sim{
		Config: c,
		space:  mm.NewAddressSpace(c.SecVMID),
		window: &migrate.Window{},
		region: mm.NewRegion(dstBase, c.Pages),
		src:    mm.NewRange(srcBase, c.CompartmentPages, true),
	}

	// The fault path records intermediate addresses while the window
	// is open, exactly like the real page-fault handler would.
	s.space.FaultHook = s.window

	for i, p := range s.src {
		if err := s.space.Map(ipnBase+uint64(i), p); err != nil {
			return nil, fmt.Errorf("map compartment: %w", err)
		}
	}

	if c.Sim {
		s.mon = &monitor.Fake{Handler: s.checkRequest}

		return s, nil
	}

	dev, err := monitor.OpenDevice(c.Dev)
	if err != nil {
		return nil, err
	}

	s.mon = dev
	s.mclose = dev.Close

	return s, nil
}

// checkRequest is the in-process monitor: it only validates that the
// descriptor is one this compartment's monitor would accept.
func (s *Sim) checkRequest(req *monitor.Request) error {
	if req.Kind != monitor.KindRemapIPA {
		return fmt.Errorf("%w: request kind %#x", errBadConfig, uint32(req.Kind))
	}

	if req.NrPages != mm.BatchPages {
		return fmt.Errorf("%w: nr_pages %d", errBadConfig, req.NrPages)
	}

	if req.SecVMID != s.SecVMID {
		return fmt.Errorf("%w: sec_vm_id %d", errBadConfig, req.SecVMID)
	}

	log.Printf("sim: monitor request: src %#x dst %#x, %d intermediate addresses",
		req.SrcStartPFN, req.DstStartPFN, countRecorded(req))

	return nil
}

func countRecorded(req *monitor.Request) int {
	n := 0

	for _, ipn := range req.IPNList {
		if ipn != 0 {
			n++
		}
	}

	return n
}

// Run relocates the batch while fault injectors run, then reports the
// final partition.
func (s *Sim) Run() error {
	defer func() {
		if s.mclose != nil {
			_ = s.mclose()
		}
	}()

	var pending mm.PageList
	for _, p := range s.src[:s.Pages] {
		pending.PushBack(p)
	}

	done := make(chan struct{})

	g := new(errgroup.Group)

	for i := 0; i < s.Faults; i++ {
		seed := int64(i)

		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))

			for {
				select {
				case <-done:
					return nil
				default:
				}

				s.space.Touch(ipnBase + uint64(rng.Intn(s.CompartmentPages)))
				runtime.Gosched()
			}
		})
	}

	log.Printf("sim: relocating %d pages of compartment %d (%s mode)",
		s.Pages, s.SecVMID, modeName(s.Sim))

	m := migrate.New(s.mon, s.window)

	res, err := m.Pages(&pending, s.region, migrate.ModeSync, migrate.ReasonCompaction)

	close(done)

	if werr := g.Wait(); werr != nil {
		return werr
	}

	log.Printf("sim: moved %d, unmapped residual %d, pending residual %d",
		res.Moved.Len(), res.MoveResidual, pending.Len())

	if err != nil {
		return fmt.Errorf("relocation batch: %w", err)
	}

	return nil
}

func modeName(sim bool) string {
	if sim {
		return "in-process"
	}

	return "device"
}
