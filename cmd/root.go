package cmd

import (
	"fmt"
	"os"

	"github.com/gopatchy/lxnet/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool

	cfg *config.Config
	log = logrus.WithField("module", "main")
)

var rootCmd = &cobra.Command{
	Use:   "lxnet",
	Short: "Art-Net, sACN and OSC bridge for lighting networks",
	Long: `lxnet merges and remaps DMX universes between Art-Net and sACN, answers
Art-Net polls, announces sACN universes and takes slot levels over OSC and
MQTT. The poll, mdns, ssdp and osc commands are one-shot network probes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			cfg = config.Default()
		} else {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
		}
		return setupLogging(cfg.Log.Level, debug)
	},
}

func setupLogging(level string, debug bool) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)

	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		return nil
	}
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file, .toml or .yaml (defaults when empty)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "log every packet")
}
