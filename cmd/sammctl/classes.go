// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/momentics/samm/api"
	"github.com/momentics/samm/pool"
)

type classRow struct {
	Name         string `json:"name"`
	Class        int    `json:"class"`
	SlotSize     int    `json:"slot_size"`
	SlotsPerSlab int    `json:"slots_per_slab"`
	SlabBytes    int    `json:"slab_bytes"`
}

func newClassesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "Print the size-class and pool table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := classTable()
			w := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(w, rows)
			}
			p := printer()
			p.Fprintf(w, "%-11s %5s %6s %10s %10s\n", "pool", "class", "slot", "slots/slab", "slab bytes")
			for _, r := range rows {
				class := "-"
				if r.Class >= 0 {
					class = p.Sprintf("%d", r.Class)
				}
				p.Fprintf(w, "%-11s %5s %6d %10d %10d\n", r.Name, class, r.SlotSize, r.SlotsPerSlab, r.SlabBytes)
			}
			p.Fprintf(w, "objects larger than %d bytes use the overflow heap\n", pool.MaxClassSize)
			return nil
		},
	}
}

func classTable() []classRow {
	rows := make([]classRow, 0, api.NumSizeClasses+3)
	for c := api.SizeClass(0); c < api.NumSizeClasses; c++ {
		rows = append(rows, classRow{
			Name:         pool.ClassName(c),
			Class:        int(c),
			SlotSize:     pool.SlotSize(c),
			SlotsPerSlab: pool.SlotsPerSlab(c),
			SlabBytes:    pool.SlotSize(c) * pool.SlotsPerSlab(c),
		})
	}
	for _, d := range []struct {
		name        string
		size, slots int
	}{
		{"StringDesc", pool.StringSlotSize, pool.StringSlotsPerSlab},
		{"ListHeader", pool.ListHeaderSlotSize, pool.ListHeaderSlotsPerSlab},
		{"ListAtom", pool.ListAtomSlotSize, pool.ListAtomSlotsPerSlab},
	} {
		rows = append(rows, classRow{Name: d.name, Class: -1, SlotSize: d.size, SlotsPerSlab: d.slots, SlabBytes: d.size * d.slots})
	}
	return rows
}
