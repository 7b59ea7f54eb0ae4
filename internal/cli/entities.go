package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewEntitiesCommand creates the entity catalog command.
func NewEntitiesCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "entities [search]",
		Short: "List or search data entities",
		Long: `List every data entity the environment exposes, optionally filtered
by a search keyword (matched against name and label) and category.`,
		Example: `  odgrid entities
  odgrid entities customer
  odgrid entities --category Sales`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			conn, err := app.connect(nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			entities, recents, err := conn.warmup(cmd.Context())
			if err != nil {
				return err
			}

			keyword := ""
			if len(args) == 1 {
				keyword = strings.ToLower(args[0])
			}

			recentSet := map[string]bool{}
			for _, r := range recents {
				recentSet[r.Name] = true
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Label", "Category", "Recent"})

			shown := 0
			for _, e := range entities {
				if keyword != "" &&
					!strings.Contains(strings.ToLower(e.Name), keyword) &&
					!strings.Contains(strings.ToLower(e.Label), keyword) {
					continue
				}
				if category != "" && !strings.EqualFold(e.Category, category) {
					continue
				}
				recent := ""
				if recentSet[e.Name] {
					recent = "*"
				}
				t.AppendRow(table.Row{e.Name, e.Label, e.Category, recent})
				shown++
			}
			t.Render()
			if shown == len(entities) {
				fmt.Fprintf(cmd.OutOrStdout(), "(%d entities)\n", shown)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d entities)\n", shown, len(entities))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by entity category")
	return cmd
}
