// Package cli provides the command-line interface for odgrid.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/odgrid/internal/cli/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// appKey stores the App in the command context.
type appKey struct{}

// App is the per-invocation state shared by all commands.
type App struct {
	Config     *config.Config
	ConfigFile string
	Logger     *slog.Logger
	EnvFlag    string
}

func appFrom(cmd *cobra.Command) *App {
	if a, ok := cmd.Context().Value(appKey{}).(*App); ok {
		return a
	}
	return &App{Config: &config.Config{PageSize: config.DefaultPageSize}, Logger: slog.New(slog.DiscardHandler)}
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "odgrid",
		Short: "odgrid - OData entity grid browser for D365 F&O",
		Long: `odgrid browses Dynamics 365 Finance & Operations data entities over
OData: load, filter, sort, join, and analyze entity data from the
terminal, or let the chat agent do it for you.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, used, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			envFlag, _ := cmd.Flags().GetString("env")
			app := &App{Config: cfg, ConfigFile: used, Logger: logger, EnvFlag: envFlag}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, app))
			return nil
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("odgrid v{{.Version}} (commit %s)\n", GitCommit))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./odgrid.yaml, then ~/.odgrid/odgrid.yaml)")
	rootCmd.PersistentFlags().String("env", "", "environment name from the config")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().Int("page-size", 0, "rows per page")

	rootCmd.AddCommand(
		NewBrowseCommand(),
		NewChatCommand(),
		NewEntitiesCommand(),
		NewQueryCommand(),
		NewExportCommand(),
		NewInitCommand(),
		NewVersionCommand(),
	)
	return rootCmd
}

// Execute runs the root command against os.Args.
func Execute(ctx context.Context) int {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
