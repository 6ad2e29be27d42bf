// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/internal/bloom"
)

type bloomOptions struct {
	bits     uint64
	hashes   int
	inserted int
	probes   int
	stride   int
}

type bloomReport struct {
	Bits           uint64  `json:"bits"`
	Hashes         int     `json:"hashes"`
	Inserted       int     `json:"inserted"`
	Probes         int     `json:"probes"`
	FalsePositives int     `json:"false_positives"`
	Measured       float64 `json:"measured_rate"`
	Expected       float64 `json:"expected_rate"`
	MemoryBytes    int     `json:"memory_bytes"`
}

func newBloomCmd(g *globalFlags) *cobra.Command {
	o := &bloomOptions{}
	cmd := &cobra.Command{
		Use:   "bloom",
		Short: "Measure the double-free filter false-positive rate",
		Long: `bloom inserts a run of aligned addresses into a fresh filter, then probes
an equally aligned disjoint run and counts the hits.

Example:
  sammctl bloom --inserted 50000 --probes 100000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runBloom(o)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(w, r)
			}
			p := printer()
			p.Fprintf(w, "bits:            %d (%d bytes)\n", r.Bits, r.MemoryBytes)
			p.Fprintf(w, "hashes:          %d\n", r.Hashes)
			p.Fprintf(w, "inserted:        %d\n", r.Inserted)
			p.Fprintf(w, "probes:          %d\n", r.Probes)
			p.Fprintf(w, "false positives: %d\n", r.FalsePositives)
			p.Fprintf(w, "measured rate:   %.6f\n", r.Measured)
			p.Fprintf(w, "expected rate:   %.6f\n", r.Expected)
			return nil
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&o.bits, "bits", bloom.DefaultBits, "Filter size in bits")
	f.IntVar(&o.hashes, "hashes", bloom.DefaultHashes, "Hash functions per item")
	f.IntVar(&o.inserted, "inserted", 10000, "Addresses to insert")
	f.IntVar(&o.probes, "probes", 100000, "Absent addresses to probe")
	f.IntVar(&o.stride, "stride", 16, "Byte distance between addresses")
	return cmd
}

func runBloom(o *bloomOptions) (bloomReport, error) {
	if o.bits == 0 || o.hashes <= 0 || o.inserted < 0 || o.probes <= 0 || o.stride <= 0 {
		return bloomReport{}, fmt.Errorf("bloom: bits, hashes, probes and stride must be positive")
	}
	const base = 0x10000000
	f := bloom.New(o.bits, o.hashes)
	for i := 0; i < o.inserted; i++ {
		f.Add(api.Ptr(base + i*o.stride))
	}
	probeBase := base + (o.inserted+1)*o.stride
	hits := 0
	for i := 0; i < o.probes; i++ {
		if f.Check(api.Ptr(probeBase + i*o.stride)) {
			hits++
		}
	}
	k, n, m := float64(o.hashes), float64(o.inserted), float64(o.bits)
	return bloomReport{
		Bits:           o.bits,
		Hashes:         o.hashes,
		Inserted:       o.inserted,
		Probes:         o.probes,
		FalsePositives: hits,
		Measured:       float64(hits) / float64(o.probes),
		Expected:       math.Pow(1-math.Exp(-k*n/m), k),
		MemoryBytes:    f.SizeBytes(),
	}, nil
}
