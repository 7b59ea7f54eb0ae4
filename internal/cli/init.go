package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/odgrid/internal/cli/config"
)

// NewInitCommand creates the config scaffolding command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter odgrid.yaml in the current directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			const name = "odgrid.yaml"
			if _, err := os.Stat(name); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", name)
			}

			scaffold := map[string]any{
				"environment": "dev",
				"environments": map[string]config.Environment{
					"dev": {
						URL:   "https://your-env.sandbox.operations.dynamics.com",
						Label: "Dev sandbox",
						Token: "${D365_TOKEN}",
					},
				},
				"page_size":  config.DefaultPageSize,
				"state_path": config.DefaultStatePath(),
				"export_dir": ".",
				"llm": map[string]any{
					"provider":   "anthropic",
					"model":      "",
					"api_key":    "${ANTHROPIC_API_KEY}",
					"max_tokens": config.DefaultMaxTokens,
				},
			}
			data, err := yaml.Marshal(scaffold)
			if err != nil {
				return err
			}
			if err := os.WriteFile(name, data, 0o644); err != nil {
				return fmt.Errorf("could not write %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s - fill in your environment URL and credentials.\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
