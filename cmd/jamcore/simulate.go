package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/jamcore/av"
	"github.com/opd-ai/jamcore/av/audio"
	"github.com/opd-ai/jamcore/simnet"
)

// audibleRMS separates played audio from concealment silence in the
// summary.
const audibleRMS = 100

type simulateFlags struct {
	tone     float64
	realtime bool
}

func newSimulateCmd(a *app) *cobra.Command {
	f := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send a test tone through a simulated network link",
		Long: `simulate captures a sine tone, encodes it, sends every packet over a
simulated link with configurable loss, reordering, duplication and delay,
and plays it back through the jitter buffer. No audio hardware is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.simulate(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.Int("periods", 0, "audio periods to run")
	flags.Float64("loss", 0, "packet loss probability")
	flags.Float64("reorder", 0, "packet reorder probability")
	flags.Float64("duplicate", 0, "packet duplication probability")
	flags.Int("delay", 0, "link delay in periods")
	flags.Int("jitter", 0, "maximum extra delay in periods")
	flags.Uint64("seed", 0, "link random seed")
	flags.Float64Var(&f.tone, "tone", 440, "test tone frequency in Hz")
	flags.BoolVar(&f.realtime, "realtime", false, "pace periods at the audio rate and hot-reload the config file")

	bindFlag(cmd, "periods", "simulation.periods")
	bindFlag(cmd, "loss", "simulation.loss_rate")
	bindFlag(cmd, "reorder", "simulation.reorder_rate")
	bindFlag(cmd, "duplicate", "simulation.duplicate_rate")
	bindFlag(cmd, "delay", "simulation.delay_ticks")
	bindFlag(cmd, "jitter", "simulation.jitter_ticks")
	bindFlag(cmd, "seed", "simulation.seed")
	return cmd
}

func (a *app) simulate(cmd *cobra.Command, f *simulateFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := newSession(a.cfg, nil)
	if err != nil {
		return err
	}
	defer s.close()

	link, err := simnet.NewLink(a.cfg.LinkConfig(), s.engine.HandleAudioFromNetwork)
	if err != nil {
		return err
	}
	if err := s.start(link.Send); err != nil {
		return err
	}
	// The tone is the only input, so it is always sent.
	s.engine.MuteInput(false)

	hw := a.cfg.HardwareFormat()
	h := simnet.NewHarness(s.engine, link, s.details.FrameSize, hw)
	h.Source = simnet.Sine(f.tone, hw)
	audible := 0
	h.Sink = func(frame []int16, _ int) {
		if simnet.RMS(frame) > audibleRMS {
			audible++
		}
	}

	var pace time.Duration
	if f.realtime {
		pace = frameDuration(s.details)
		go s.watch(ctx, a.loader)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "simulate",
		"transport": s.details.String(),
		"codec":     a.cfg.Audio.Codec,
		"periods":   a.cfg.Simulation.Periods,
		"link":      fmt.Sprintf("%+v", a.cfg.LinkConfig()),
	}).Info("Starting simulation")

	err = h.Run(ctx, a.cfg.Simulation.Periods, pace)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	printSummary(cmd.OutOrStdout(), s.engine.TransportDetails(), s.engine.Stats(), link.Stats(), audible)
	return nil
}

// frameDuration is the wall-clock length of one packet of audio.
func frameDuration(d audio.TransportDetails) time.Duration {
	return time.Duration(d.FrameSize) * time.Second / audio.CodecSampleRate
}

// printSummary writes the run report. A negative audible count omits the
// audibility line.
func printSummary(w io.Writer, d audio.TransportDetails, st av.Stats, ls simnet.Stats, audible int) {
	fmt.Fprintf(w, "transport      %s, %s\n", d, humanize.SIWithDigits(float64(d.Bitrate()), 0, "bit/s"))
	fmt.Fprintf(w, "link           sent %s, delivered %s, lost %s, reordered %s, duplicated %s\n",
		humanize.Comma(int64(ls.Sent)), humanize.Comma(int64(ls.Delivered)),
		humanize.Comma(int64(ls.Lost)), humanize.Comma(int64(ls.Reordered)),
		humanize.Comma(int64(ls.Duplicated)))
	fmt.Fprintf(w, "capture        %s callbacks, %s sent, %s muted\n",
		humanize.Comma(int64(st.Capture.Callbacks)), humanize.Comma(int64(st.Capture.OK)),
		humanize.Comma(int64(st.Capture.Muted)))
	fmt.Fprintf(w, "render         %s callbacks, %s played, %s concealed, %s codec failures\n",
		humanize.Comma(int64(st.Render.Callbacks)), humanize.Comma(int64(st.Render.OK)),
		humanize.Comma(int64(st.Render.Missing)), humanize.Comma(int64(st.Render.CodecFailures)))
	fmt.Fprintf(w, "jitter buffer  %d/%d packets, %s, resyncs %d forward %d backward, %s dropped\n",
		st.BufferOccupancy, st.BufferCapacity, st.BufferState,
		st.Buffer.ForwardResyncs, st.Buffer.BackwardResyncs, humanize.Bytes(st.Buffer.DroppedBytes))
	if audible >= 0 && st.Render.Callbacks > 0 {
		fmt.Fprintf(w, "audible        %d of %d periods (%.1f%%)\n",
			audible, st.Render.Callbacks, 100*float64(audible)/float64(st.Render.Callbacks))
	}
}
