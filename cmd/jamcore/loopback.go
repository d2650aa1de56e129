package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/jamcore/av/device"
	"github.com/opd-ai/jamcore/simnet"
)

func newLoopbackCmd(a *app) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Play the sound card input back through the transport",
		Long: `loopback opens the default duplex audio device, encodes the captured
audio, passes it through the simulated link and jitter buffer, and plays the
result. Input starts muted unless audio.input_muted is false or --unmute is
given. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.loopback(cmd, duration)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flags.Bool("unmute", false, "send captured audio instead of silence")
	flags.Bool("no-mmap", false, "disable memory-mapped ALSA buffers")
	bindFlag(cmd, "no-mmap", "audio.no_mmap")
	return cmd
}

func (a *app) loopback(cmd *cobra.Command, duration time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	duplex := device.NewDuplex(device.Config{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels,
		NoMMap:     a.cfg.Audio.NoMMap,
	})
	defer func() {
		if err := duplex.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close audio device")
		}
	}()

	s, err := newSession(a.cfg, duplex)
	if err != nil {
		return err
	}
	defer s.close()

	link, err := simnet.NewLink(a.cfg.LinkConfig(), s.engine.HandleAudioFromNetwork)
	if err != nil {
		return err
	}
	if unmute, _ := cmd.Flags().GetBool("unmute"); unmute {
		s.engine.MuteInput(false)
	}
	if err := s.start(link.Send); err != nil {
		return err
	}
	go s.watch(ctx, a.loader)

	logrus.WithFields(logrus.Fields{
		"function":    "loopback",
		"transport":   s.details.String(),
		"hw_format":   duplex.Format().String(),
		"input_muted": s.engine.IsInputMuted(),
	}).Info("Loopback running")

	// The link advances once per packet period, independent of the
	// device clock.
	ticker := time.NewTicker(frameDuration(s.details))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			link.Flush()
			printSummary(cmd.OutOrStdout(), s.engine.TransportDetails(), s.engine.Stats(), link.Stats(), -1)
			return nil
		case <-ticker.C:
			link.Tick()
		}
	}
}
