package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/opd-ai/jamcore/config"
)

// app carries state shared by the subcommands.
type app struct {
	configPath string
	loader     *config.Loader
	cfg        config.Config
}

// newRootCmd builds the command tree. Each call returns an independent
// tree so tests can run commands in isolation.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "jamcore",
		Short:         "Low-latency audio transport core",
		Long:          "jamcore encodes, sequences and jitter-buffers audio the way an online rehearsal client does.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath(), "config file")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("preset", "", "transport preset, see 'jamcore presets'")
	flags.String("codec", "", "codec backend (opus, pcm)")
	flags.Int("buffer-size", 0, "jitter buffer capacity in packets")
	flags.Int("block-factor", 0, "codec sub-frames per packet")
	flags.String("metrics-listen", "", "address for the Prometheus endpoint, e.g. :9464")

	root.AddCommand(
		newSimulateCmd(a),
		newLoopbackCmd(a),
		newPresetsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"preset":         "audio.preset",
	"codec":          "audio.codec",
	"buffer-size":    "network.buffer_size",
	"block-factor":   "audio.block_factor",
	"metrics-listen": "metrics.listen",
}

// load reads the configuration once flags are parsed. Only flags the user
// set override the file, so the defaults above never shadow it.
func (a *app) load(cmd *cobra.Command) error {
	loader, err := config.NewLoader(a.configPath)
	if err != nil {
		return err
	}
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := loader.Viper().BindPFlag(key, f); err != nil {
			return err
		}
	}
	if err := a.bindLocal(cmd, loader); err != nil {
		return err
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.Log.Apply(); err != nil {
		return err
	}

	a.loader = loader
	a.cfg = cfg

	logrus.WithFields(logrus.Fields{
		"function": "app.load",
		"config":   loader.Path(),
		"preset":   cfg.Audio.Preset,
		"codec":    cfg.Audio.Codec,
	}).Debug("Configuration ready")

	return nil
}

// bindLocal binds the running command's own flags that carry a
// configuration key annotation.
func (a *app) bindLocal(cmd *cobra.Command, loader *config.Loader) error {
	var err error
	cmd.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		key, ok := f.Annotations[configKeyAnnotation]
		if !ok || len(key) == 0 || !f.Changed || err != nil {
			return
		}
		err = loader.Viper().BindPFlag(key[0], f)
	})
	return err
}

// configKeyAnnotation marks a subcommand flag with the key it overrides.
const configKeyAnnotation = "jamcore.config-key"

// bindFlag annotates a subcommand flag with its configuration key.
func bindFlag(cmd *cobra.Command, name, key string) {
	_ = cmd.Flags().SetAnnotation(name, configKeyAnnotation, []string{key})
}
