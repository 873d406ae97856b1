package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/campaignpilot/internal/profile"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "campaignpilot",
	Short:         "Performance-driven campaign decision engine",
	Long:          "campaignpilot records agent executions, scores agent health, plans campaigns and decides A/B experiment winners.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if file := viper.GetString("config"); file != "" {
			viper.SetConfigFile(file)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config %s: %w", file, err)
			}
		}
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("data", ".")

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a config file (yaml, toml or json)")
	flags.String("mode", "dev", `mode of the engine, "prod", "dev" or "demo"`)
	flags.String("driver", "sqlite", `database driver, "sqlite" or "postgres"`)
	flags.String("dsn", "", "database source name")
	flags.String("data", ".", "data directory for the sqlite database")
	flags.Bool("verbose", false, "enable debug logging")

	for _, name := range []string{"config", "mode", "driver", "dsn", "data", "verbose"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("campaignpilot")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newRecordCommand(),
		newAnalyzeCommand(),
		newPlanCommand(),
		newStrategyCommand(),
		newExperimentCommand(),
		newPurgeCommand(),
		newCostReportCommand(),
		newRunCommand(),
		newVersionCommand(),
	)
}

// loadProfile builds the profile from flags, config file and environment.
func loadProfile() (*profile.Profile, error) {
	prof := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Data:    viper.GetString("data"),
		Version: version,
	}
	prof.FromEnv()
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	return prof, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
