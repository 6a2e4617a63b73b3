package sim_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosma-dev/gosma/sim"
)

func TestRun(t *testing.T) {
	t.Parallel()

	s, err := sim.New(sim.Config{
		Sim:              true,
		SecVMID:          1,
		Pages:            64,
		CompartmentPages: 128,
		Faults:           2,
	})
	require.NoError(t, err)

	require.NoError(t, s.Run())
}

func TestRunWholeCompartment(t *testing.T) {
	t.Parallel()

	// CompartmentPages below the batch size rounds up: every page of
	// the compartment migrates.
	s, err := sim.New(sim.Config{
		Sim:     true,
		SecVMID: 9,
		Pages:   32,
		Faults:  1,
	})
	require.NoError(t, err)

	require.NoError(t, s.Run())
}

func TestNewBadConfig(t *testing.T) {
	t.Parallel()

	_, err := sim.New(sim.Config{Sim: true, SecVMID: 0, Pages: 64})
	require.Error(t, err)

	_, err = sim.New(sim.Config{Sim: true, SecVMID: 1, Pages: 0})
	require.Error(t, err)

	_, err = sim.New(sim.Config{Sim: true, SecVMID: 1, Pages: 4096})
	require.Error(t, err)
}
