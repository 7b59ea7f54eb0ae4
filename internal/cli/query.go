package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

// NewQueryCommand creates the one-shot query command.
func NewQueryCommand() *cobra.Command {
	var (
		filter  string
		selects []string
		order   string
		top     int
		skip    int
		count   bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "query <entity>",
		Short: "Run a one-shot OData query",
		Long: `Query one entity directly and print the result, without opening a
grid session. The filter is passed through as a raw OData $filter
expression.`,
		Example: `  odgrid query SalesOrderHeadersV2 --filter "SalesOrderStatus eq 'Backorder'" --top 20
  odgrid query CustomersV3 --select CustomerAccount,Name --order Name --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			conn, err := app.connect(nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			opts := odata.QueryOptions{
				Filter: filter,
				Top:    top,
				Skip:   skip,
				Count:  count,
			}
			for _, s := range selects {
				for _, col := range strings.Split(s, ",") {
					if col = strings.TrimSpace(col); col != "" {
						opts.Select = append(opts.Select, col)
					}
				}
			}
			if order != "" {
				field, dir, _ := strings.Cut(order, ":")
				opts.OrderBy = []odata.OrderBy{{Field: field, Direction: dir}}
			}

			result, err := conn.client.QueryEntity(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return renderQueryResult(cmd, result, opts.Select, format)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "raw OData $filter expression")
	cmd.Flags().StringSliceVar(&selects, "select", nil, "columns to select (comma-separated, repeatable)")
	cmd.Flags().StringVar(&order, "order", "", "order by field, optionally field:desc")
	cmd.Flags().IntVar(&top, "top", 100, "maximum rows to fetch")
	cmd.Flags().IntVar(&skip, "skip", 0, "rows to skip")
	cmd.Flags().BoolVar(&count, "count", false, "request the total count")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json, csv")
	return cmd
}

func renderQueryResult(cmd *cobra.Command, result *odata.QueryResult, selected []string, format string) error {
	out := cmd.OutOrStdout()

	columns := selected
	if len(columns) == 0 {
		columns = collectColumns(result.Data)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Data)

	case "csv":
		fmt.Fprintln(out, strings.Join(columns, ","))
		for _, row := range result.Data {
			cells := make([]string, len(columns))
			for i, c := range columns {
				cells[i] = escapeCSVCell(cellText(row[c]))
			}
			fmt.Fprintln(out, strings.Join(cells, ","))
		}
		return nil

	case "table", "":
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		header := make(table.Row, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		t.AppendHeader(header)
		for _, row := range result.Data {
			cells := make(table.Row, len(columns))
			for i, c := range columns {
				cells[i] = cellText(row[c])
			}
			t.AppendRow(cells)
		}
		t.Render()
		if result.HasCount {
			fmt.Fprintf(out, "(%d rows of %d total, %dms)\n", len(result.Data), result.Count, result.QueryTime.Milliseconds())
		} else {
			fmt.Fprintf(out, "(%d rows, %dms)\n", len(result.Data), result.QueryTime.Milliseconds())
		}
		return nil

	default:
		return fmt.Errorf("unknown format %q (table, json, csv)", format)
	}
}

// collectColumns gathers non-annotation column names across rows,
// first-seen order.
func collectColumns(rows []odata.Row) []string {
	var columns []string
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			if strings.HasPrefix(k, "@") || seen[k] {
				continue
			}
			seen[k] = true
			columns = append(columns, k)
		}
	}
	// Map order is random; keep the output stable.
	sortStrings(columns)
	return columns
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func escapeCSVCell(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
