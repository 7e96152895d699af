package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
)

type simulateOpts struct {
	capacity uint32
	weight   uint32
	period   time.Duration
	n        uint32
	count    int
	every    time.Duration
}

func newSimulateCmd() *cobra.Command {
	var o simulateOpts
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a request pattern against a policy and print each decision",
		Long: `simulate runs count checks of n cells each against a fresh bucket,
spaced every apart on a synthetic timeline starting at zero. Nothing sleeps;
the output is deterministic.`,
		Example: `  ratemeter simulate --capacity 10 --period 1s --count 15
  ratemeter simulate --capacity 20 --period 1s --n 10 --every 20ms --count 50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return simulate(cmd, o)
		},
	}
	f := cmd.Flags()
	f.Uint32Var(&o.capacity, "capacity", 10, "cells admitted per period")
	f.Uint32Var(&o.weight, "weight", 1, "cost of a single cell")
	f.DurationVar(&o.period, "period", time.Second, "replenishment period")
	f.Uint32Var(&o.n, "n", 1, "cells per check")
	f.IntVar(&o.count, "count", 20, "number of checks")
	f.DurationVar(&o.every, "every", 0, "spacing between checks")
	return cmd
}

func simulate(cmd *cobra.Command, o simulateOpts) error {
	if o.count < 0 {
		return fmt.Errorf("count must not be negative, got %d", o.count)
	}
	if o.every < 0 {
		return fmt.Errorf("every must not be negative, got %s", o.every)
	}

	gcra, err := ratelimit.NewGCRA(o.capacity, o.weight, o.period)
	if err != nil {
		return err
	}
	p := gcra.Parameters()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "interval=%s tau=%s\n", p.EmissionInterval(), p.Tau())

	state := gcra.NewState()
	var admitted int
	for i := 0; i < o.count; i++ {
		now := ratelimit.Instant(0).Add(time.Duration(i) * o.every)
		err := gcra.CheckN(state, o.n, now)

		var overloaded *ratelimit.OverloadedError
		switch {
		case err == nil:
			admitted++
			fmt.Fprintf(out, "%4d %s admit remaining=%d\n", i, now, p.Remaining(state.TAT(), now))
		case errors.As(err, &overloaded):
			fmt.Fprintf(out, "%4d %s reject wait=%s\n", i, now, overloaded.WaitTime)
		case errors.Is(err, ratelimit.ErrInsufficientCapacity):
			fmt.Fprintf(out, "%4d %s reject insufficient capacity\n", i, now)
		default:
			return err
		}
	}
	fmt.Fprintf(out, "admitted %d of %d\n", admitted, o.count)
	return nil
}
