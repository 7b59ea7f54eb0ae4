package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	var (
		format      string
		all         bool
		columnsFlag []string
		outDir      string
	)

	cmd := &cobra.Command{
		Use:   "export <entity>",
		Short: "Export entity data to a file",
		Long: `Load an entity and export it to csv, tsv, json, or sql. By default
only the first page is exported; --all pages through the full entity
in batches.`,
		Example: `  odgrid export CustomersV3 --format csv
  odgrid export SalesOrderLinesV2 --format sql --all
  odgrid export CustomersV3 --columns CustomerAccount,Name --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			conn, err := app.connect(nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.session.LoadEntity(cmd.Context(), args[0]); err != nil {
				return err
			}
			if len(columnsFlag) > 0 {
				var cols []string
				for _, s := range columnsFlag {
					cols = append(cols, strings.Split(s, ",")...)
				}
				if err := conn.session.SetVisibleColumns(cmd.Context(), cols); err != nil {
					return err
				}
			}
			if outDir == "" {
				outDir = app.Config.ExportDir
			}
			return exportFromSession(cmd.Context(), cmd.OutOrStdout(), conn, format, all, len(columnsFlag) > 0, outDir)
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "export format: csv, tsv, json, sql")
	cmd.Flags().BoolVar(&all, "all", false, "export all pages, not just the first")
	cmd.Flags().StringSliceVar(&columnsFlag, "columns", nil, "export only these columns (comma-separated)")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: export_dir from config)")
	return cmd
}

// exportFromSession serializes the session's data and writes the file.
// Shared by the export command and the browse REPL's .export.
func exportFromSession(ctx context.Context, out io.Writer, conn *connection, format string, all, selectedOnly bool, dir string) error {
	var (
		filename string
		content  []byte
		rows     int
	)
	if all {
		r, err := conn.session.ExportAll(ctx, format, selectedOnly)
		if err != nil {
			return err
		}
		filename, content, rows = r.Filename, r.Content, r.Rows
	} else {
		r, err := conn.session.ExportData(format)
		if err != nil {
			return err
		}
		filename, content, rows = r.Filename, r.Content, r.Rows
	}

	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("could not write export: %w", err)
	}
	fmt.Fprintf(out, "Exported %d rows to %s\n", rows, path)
	return nil
}
