// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/control"
	"github.com/momentics/samm/facade"
)

type stressOptions struct {
	goroutines    int
	iterations    int
	depth         int
	objects       int
	maxSize       int
	retainEvery   int
	freeEvery     int
	queueCapacity int
	sync          bool
	seed          uint64
}

type stressReport struct {
	Elapsed time.Duration    `json:"elapsed"`
	Stats   api.Stats        `json:"stats"`
	Pools   []api.PoolStats  `json:"pools"`
	Balance map[string]int64 `json:"balance"`
}

// errUnbalanced reports a workload whose allocations were not all released.
var errUnbalanced = errors.New("stress: allocated objects were not all released")

func newStressCmd(g *globalFlags) *cobra.Command {
	o := &stressOptions{}
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent nested-scope workload",
		Long: `stress starts independent scope stacks on several goroutines. Each
iteration opens --depth nested blocks, allocates --objects objects of random
size in every block and tracks them, retains some into the parent block,
frees some explicitly and unwinds. The command fails unless every allocation
was either freed or cleaned.

Example:
  sammctl stress --goroutines 8 --iterations 1000 --depth 4
  sammctl stress --queue-capacity 1 --sync=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := control.FromEnv(control.DefaultConfig())
			cfg.QueueCapacity = o.queueCapacity
			cfg.Synchronous = cfg.Synchronous || o.sync
			cfg.Output = cmd.ErrOrStderr()
			if !g.verbose {
				cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			}
			r, err := runStress(cfg, o)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				if err := printJSON(w, r); err != nil {
					return err
				}
			} else {
				printStress(w, r)
			}
			if r.Balance["unreleased"] != 0 {
				return fmt.Errorf("%w: %d outstanding", errUnbalanced, r.Balance["unreleased"])
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.goroutines, "goroutines", 4, "Concurrent scope stacks")
	f.IntVar(&o.iterations, "iterations", 1000, "Iterations per goroutine")
	f.IntVar(&o.depth, "depth", 4, "Nested blocks per iteration")
	f.IntVar(&o.objects, "objects", 8, "Objects allocated per block")
	f.IntVar(&o.maxSize, "max-size", 2048, "Largest object size in bytes")
	f.IntVar(&o.retainEvery, "retain-every", 5, "Retain every Nth object into the parent block (0 disables)")
	f.IntVar(&o.freeEvery, "free-every", 7, "Explicitly free every Nth object (0 disables)")
	f.IntVar(&o.queueCapacity, "queue-capacity", 1024, "Cleanup queue capacity")
	f.BoolVar(&o.sync, "sync", false, "Release batches on the exiting goroutine")
	f.Uint64Var(&o.seed, "seed", 1, "Random seed for object sizes")
	return cmd
}

func (o *stressOptions) validate() error {
	switch {
	case o.goroutines <= 0, o.iterations < 0, o.objects < 0:
		return fmt.Errorf("stress: goroutines must be positive, iterations and objects non-negative")
	case o.depth <= 0:
		return fmt.Errorf("stress: depth %d must be positive", o.depth)
	case o.maxSize <= 0:
		return fmt.Errorf("stress: max-size %d must be positive", o.maxSize)
	case o.retainEvery < 0, o.freeEvery < 0:
		return fmt.Errorf("stress: retain-every and free-every must be non-negative")
	}
	return nil
}

func runStress(cfg control.Config, o *stressOptions) (stressReport, error) {
	if err := o.validate(); err != nil {
		return stressReport{}, err
	}
	if o.depth >= cfg.MaxScopeDepth {
		return stressReport{}, fmt.Errorf("stress: depth %d reaches the scope limit %d", o.depth, cfg.MaxScopeDepth)
	}
	m, err := facade.New(cfg)
	if err != nil {
		return stressReport{}, err
	}
	defer m.Shutdown()

	start := time.Now()
	errc := make(chan error, o.goroutines)
	var wg sync.WaitGroup
	for g := 0; g < o.goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			w := &stressWorker{
				m:   m,
				st:  m.NewStack(),
				o:   o,
				rng: rand.New(rand.NewPCG(o.seed, uint64(g))),
			}
			defer w.st.Close()
			for i := 0; i < o.iterations; i++ {
				if err := w.block(1); err != nil {
					errc <- err
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errc)
	if err := <-errc; err != nil {
		return stressReport{}, err
	}
	m.Wait()

	s := m.Stats()
	return stressReport{
		Elapsed: time.Since(start),
		Stats:   s,
		Pools:   m.PoolStats(),
		Balance: map[string]int64{
			"allocated":  int64(s.ObjectsAllocated),
			"freed":      int64(s.ObjectsFreed),
			"cleaned":    int64(s.ObjectsCleaned),
			"unreleased": int64(s.ObjectsAllocated) - int64(s.ObjectsFreed) - int64(s.ObjectsCleaned),
		},
	}, nil
}

type stressWorker struct {
	m   *facade.Manager
	st  *facade.Stack
	o   *stressOptions
	rng *rand.Rand
	n   int
}

// block runs one nested block at level and recurses until the configured
// depth is reached.
func (w *stressWorker) block(level int) error {
	w.st.EnterScope()
	defer w.st.ExitScope()

	for j := 0; j < w.o.objects; j++ {
		a, err := w.m.AllocObject(1 + w.rng.IntN(w.o.maxSize))
		if err != nil {
			return err
		}
		w.st.TrackObject(a)
		w.n++
		switch {
		case w.o.freeEvery > 0 && w.n%w.o.freeEvery == 0:
			if err := w.st.FreeObject(a.Ptr); err != nil {
				return fmt.Errorf("stress: free %#x: %w", uintptr(a.Ptr), err)
			}
		case w.o.retainEvery > 0 && w.n%w.o.retainEvery == 0:
			w.st.Retain(a.Ptr, 1)
		}
	}
	if _, err := w.st.AllocString(); err != nil {
		return err
	}
	if level < w.o.depth {
		return w.block(level + 1)
	}
	return nil
}

func printStress(w io.Writer, r stressReport) {
	p := printer()
	s := r.Stats
	p.Fprintf(w, "elapsed:           %v\n", r.Elapsed.Round(time.Microsecond))
	p.Fprintf(w, "scopes:            %d entered, %d exited, peak depth %d\n", s.ScopesEntered, s.ScopesExited, s.PeakScopeDepth)
	p.Fprintf(w, "objects:           %d allocated, %d freed, %d cleaned\n", s.ObjectsAllocated, s.ObjectsFreed, s.ObjectsCleaned)
	p.Fprintf(w, "strings:           %d tracked, %d cleaned\n", s.StringsTracked, s.StringsCleaned)
	p.Fprintf(w, "retains:           %d\n", s.RetainCalls)
	p.Fprintf(w, "batches:           %d (%d inline fallbacks)\n", s.CleanupBatches, s.SyncFallbacks)
	p.Fprintf(w, "bytes:             %d allocated, %d freed\n", s.TotalBytesAllocated, s.TotalBytesFreed)
	p.Fprintf(w, "double frees:      %d\n", s.DoubleFreeAttempts)
	p.Fprintf(w, "cleanup time:      %v\n", s.TotalCleanupTime.Round(time.Microsecond))
	p.Fprintf(w, "unreleased:        %d\n", r.Balance["unreleased"])
	for _, ps := range r.Pools {
		p.Fprintf(w, "  %-11s peak %6d in use %6d slabs %4d spill %d\n", ps.Name, ps.PeakUse, ps.InUse, ps.Slabs, ps.Fallbacks)
	}
}
