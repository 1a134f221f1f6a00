package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/jd3nn1s/dashlog"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// set via -ldflags "-X main.version=..."
var version = "dev"

const (
	exitError = 1
	exitInit  = 2
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "dashlog",
	Short: "Vehicle telemetry logger and dashboard",
	Long: `dashlog samples the diagnostic bus, GPS, inertial and CAN sensors,
draws a live dashboard on the framebuffer and stores every reading as
24 byte records in the data directory.

Running without a subcommand is the same as "dashlog run".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := log.ParseLevel(logLevel)
		if err != nil {
			return errors.Wrap(err, "--log-level")
		}
		log.SetLevel(lvl)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd.Context(), runOpts)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dashlog %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file, defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	addRunFlags(rootCmd)
	rootCmd.AddCommand(runCmd, dumpCmd, versionCmd)
}

// loadConfig reads configPath, or the defaults when it is empty.
func loadConfig() (*dashlog.Config, error) {
	if configPath == "" {
		cfg := dashlog.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return dashlog.LoadConfig(configPath)
}

// exitCode tells a failed initialization apart from a failure while
// running.
func exitCode(err error) int {
	if dashlog.IsInitError(err) {
		return exitInit
	}
	return exitError
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.WithField("err", err).Error("dashlog failed")
		os.Exit(exitCode(err))
	}
}
