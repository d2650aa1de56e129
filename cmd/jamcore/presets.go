package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opd-ai/jamcore/av/audio"
)

func newPresetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List transport presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCODEC\tPACKET\tFRAME\tBITRATE\t")
			for _, p := range audio.Presets() {
				d := p.Details
				if a.cfg.Audio.BlockFactor > 1 {
					d = d.WithBlockFactor(a.cfg.Audio.BlockFactor)
				}
				marker := ""
				if p.Name == a.cfg.Audio.Preset {
					marker = " *"
				}
				fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\t\n",
					p.Name, marker, d.Codec,
					humanize.Bytes(uint64(d.PacketSize)),
					frameDuration(d).Round(100*time.Microsecond),
					humanize.SIWithDigits(float64(d.Bitrate()), 0, "bit/s"))
			}
			return w.Flush()
		},
	}
}
