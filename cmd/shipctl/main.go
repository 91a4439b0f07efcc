package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fentz26/shipctl/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "shipctl",
	Short: "shipctl - deployment status and workflow orchestration",
	Long: `shipctl watches a fleet of services: it reconciles GitHub Actions workflow runs
and health probes into one status per service, and dispatches or cancels
deployment workflows on demand.`,
	SilenceUsage: true,
}

var (
	apiAddr    string
	configPath string
	logLevel   = logLevelFlag{level: slog.LevelInfo}
)

// logLevelFlag is a pflag.Value parsing slog level names.
type logLevelFlag struct {
	level slog.Level
}

var _ pflag.Value = (*logLevelFlag)(nil)

func (f *logLevelFlag) String() string { return strings.ToLower(f.level.String()) }
func (f *logLevelFlag) Type() string   { return "level" }

func (f *logLevelFlag) Set(s string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("invalid log level %q (debug, info, warn, error)", s)
	}
	f.level = l
	return nil
}

// addConnectionFlags registers the flags locating and bounding requests to
// the daemon API.
func addConnectionFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&apiAddr, "api", "http://"+config.DefaultListenAddr, "Daemon API address")
	flagSet.DurationVar(&apiClient.Timeout, "timeout", DefaultClientTimeout, "Timeout for daemon API requests")
}

// normalizeFlagName accepts underscores in flag names.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func init() {
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	defaultConfig, err := config.DefaultPath()
	if err != nil {
		defaultConfig = config.DefaultConfigFile
	}

	flags := rootCmd.PersistentFlags()
	addConnectionFlags(flags)
	flags.StringVar(&configPath, "config", defaultConfig, "Path to the config file")
	flags.Var(&logLevel, "log-level", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd, triggerCmd, cancelCmd, cancelAllCmd, refreshCmd, historyCmd)
	rootCmd.AddCommand(credentialsCmd, configCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
