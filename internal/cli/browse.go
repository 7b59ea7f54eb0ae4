package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

// NewBrowseCommand creates the interactive grid REPL.
func NewBrowseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse [entity]",
		Short: "Browse entities in an interactive grid",
		Long: `Open an interactive grid session against the configured environment.

Dot-commands drive the grid (.open, .filter, .sort, .join, ...); any
other input becomes the quick filter. Type .help inside the session
for the full list.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			conn, err := app.connect(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer conn.Close()
			return runBrowseREPL(cmd, conn, args)
		},
	}
}

func runBrowseREPL(cmd *cobra.Command, conn *connection, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	entities, recents, err := conn.warmup(ctx)
	if err != nil {
		return fmt.Errorf("could not reach %s: %w", conn.envURL, err)
	}

	fmt.Fprintf(out, "odgrid - %s (%d entities)\n", conn.envURL, len(entities))
	if len(recents) > 0 {
		names := make([]string, 0, len(recents))
		for _, r := range recents {
			names = append(names, r.Name)
		}
		fmt.Fprintf(out, "Recent: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintln(out, "Type .help for commands, .quit to exit")

	if len(args) == 1 {
		if err := conn.session.LoadEntity(ctx, args[0]); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		} else {
			conn.touchRecent(conn.session.CurrentEntity())
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "odgrid> ",
		HistoryFile:     browseHistoryFile(),
		AutoComplete:    browseCompleter(entities),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if quit := runDotCommand(ctx, cmd, conn, line); quit {
				return nil
			}
			continue
		}

		// Bare text is the quick filter; an empty "." form clears it.
		if err := conn.session.SetQuickFilter(ctx, line); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
}

func browseHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".odgrid", "browse_history")
}

// browseCompleter completes dot-commands and entity names.
func browseCompleter(entities []*odata.Schema) *readline.PrefixCompleter {
	var names []readline.PrefixCompleterInterface
	for _, e := range entities {
		names = append(names, readline.PcItem(e.Name))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".open", names...),
		readline.PcItem(".search"),
		readline.PcItem(".filter"),
		readline.PcItem(".clearfilters"),
		readline.PcItem(".sort"),
		readline.PcItem(".join", names...),
		readline.PcItem(".compare", names...),
		readline.PcItem(".expand"),
		readline.PcItem(".clearexpand"),
		readline.PcItem(".related"),
		readline.PcItem(".page"),
		readline.PcItem(".pagesize"),
		readline.PcItem(".columns"),
		readline.PcItem(".highlight", readline.PcItem("rows"), readline.PcItem("cells")),
		readline.PcItem(".clearhighlights"),
		readline.PcItem(".summarize"),
		readline.PcItem(".stats"),
		readline.PcItem(".distinct"),
		readline.PcItem(".crosstab"),
		readline.PcItem(".export",
			readline.PcItem("csv"), readline.PcItem("tsv"),
			readline.PcItem("json"), readline.PcItem("sql")),
		readline.PcItem(".recent"),
		readline.PcItem(".help"),
		readline.PcItem(".quit"),
	}
	return readline.NewPrefixCompleter(items...)
}

func runDotCommand(ctx context.Context, cmd *cobra.Command, conn *connection, line string) (quit bool) {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	parts := strings.Fields(line)
	name := strings.ToLower(parts[0])
	args := parts[1:]
	s := conn.session

	fail := func(err error) {
		if err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
	usage := func(u string) { fmt.Fprintf(errOut, "Usage: %s\n", u) }

	switch name {
	case ".quit", ".exit":
		return true

	case ".help":
		printBrowseHelp(out)

	case ".open":
		if len(args) != 1 {
			usage(".open <entity>")
			return false
		}
		if err := s.LoadEntity(ctx, args[0]); err != nil {
			fail(err)
			return false
		}
		conn.touchRecent(s.CurrentEntity())

	case ".search":
		if len(args) == 0 {
			usage(".search <keyword>")
			return false
		}
		fmt.Fprintln(out, s.SearchEntities(ctx, strings.Join(args, " ")))

	case ".filter":
		// .filter Field op [value] [and|or]
		if len(args) < 2 {
			usage(".filter <field> <operator> [value] [and|or]")
			return false
		}
		value, logic := "", ""
		if len(args) > 2 {
			value = args[2]
		}
		if len(args) > 3 {
			logic = args[3]
		}
		fail(s.AddFilter(ctx, args[0], args[1], value, logic))

	case ".clearfilters":
		fail(s.ClearAllFilters(ctx))

	case ".sort":
		if len(args) < 1 {
			usage(".sort <field> [asc|desc]")
			return false
		}
		dir := ""
		if len(args) > 1 {
			dir = args[1]
		}
		fail(s.SortByColumn(ctx, args[0], dir))

	case ".join":
		if len(args) < 3 {
			usage(".join <target> <currentField> <targetField> [inner]")
			return false
		}
		inner := len(args) > 3 && strings.EqualFold(args[3], "inner")
		fail(s.JoinEntity(ctx, args[0], args[1], args[2], inner))

	case ".compare":
		if len(args) != 1 {
			usage(".compare <target>")
			return false
		}
		report, err := s.CompareEntities(ctx, args[0])
		if err != nil {
			fail(err)
			return false
		}
		fmt.Fprintln(out, report)

	case ".expand":
		if len(args) == 0 {
			usage(".expand <navProperty> [more...]")
			return false
		}
		fail(s.ExpandEntity(ctx, args...))

	case ".clearexpand":
		fail(s.ClearExpand(ctx))

	case ".related":
		fmt.Fprintln(out, s.GetRelatedEntities())

	case ".page":
		if len(args) != 1 {
			usage(".page <number>")
			return false
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			usage(".page <number>")
			return false
		}
		fail(s.GoToPage(ctx, n))

	case ".pagesize":
		if len(args) != 1 {
			usage(".pagesize <rows>")
			return false
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			usage(".pagesize <rows>")
			return false
		}
		fail(s.SetPageSize(ctx, n))

	case ".columns":
		if len(args) == 0 {
			usage(".columns <col1,col2,...>")
			return false
		}
		fail(s.SetVisibleColumns(ctx, strings.Split(strings.Join(args, ","), ",")))

	case ".highlight":
		// .highlight rows|cells Field op value [color]
		if len(args) < 3 {
			usage(".highlight rows|cells <field> <operator> [value] [color]")
			return false
		}
		scope := strings.ToLower(args[0])
		field, op := args[1], args[2]
		value, color := "", ""
		if len(args) > 3 {
			value = args[3]
		}
		if len(args) > 4 {
			color = args[4]
		}
		var n int
		switch scope {
		case "rows":
			n = s.HighlightRows(field, op, value, color)
		case "cells":
			n = s.HighlightCells(field, op, value, color)
		default:
			usage(".highlight rows|cells <field> <operator> [value] [color]")
			return false
		}
		fmt.Fprintf(out, "%d matches highlighted\n", n)

	case ".clearhighlights":
		s.ClearHighlights()
		fmt.Fprintln(out, "Highlights cleared")

	case ".summarize":
		if len(args) != 1 {
			usage(".summarize <field>")
			return false
		}
		fmt.Fprintln(out, s.SummarizeData(args[0]))

	case ".stats":
		if len(args) != 1 {
			usage(".stats <field>")
			return false
		}
		fmt.Fprintln(out, s.ComputeStats(args[0]))

	case ".distinct":
		if len(args) != 1 {
			usage(".distinct <field>")
			return false
		}
		fmt.Fprintln(out, s.GetDistinctValues(args[0]))

	case ".crosstab":
		if len(args) != 2 {
			usage(".crosstab <field1> <field2>")
			return false
		}
		fmt.Fprintln(out, s.CrossTab(args[0], args[1]))

	case ".export":
		// .export <format> [all]
		if len(args) < 1 {
			usage(".export <csv|tsv|json|sql> [all]")
			return false
		}
		if err := exportFromSession(ctx, out, conn, args[0], len(args) > 1 && strings.EqualFold(args[1], "all"), false, ""); err != nil {
			fail(err)
		}

	case ".recent":
		if conn.store == nil {
			fmt.Fprintln(out, "(no local store)")
			return false
		}
		recents, err := conn.store.RecentEntities(conn.envURL, 10)
		if err != nil {
			fail(err)
			return false
		}
		for _, r := range recents {
			fmt.Fprintf(out, "%s  (%s)\n", r.Name, r.LastUsed.Local().Format("2006-01-02 15:04"))
		}

	default:
		fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", name)
	}
	return false
}

func printBrowseHelp(w io.Writer) {
	help := `
Commands:
  .open <entity>                         Load an entity
  .search <keyword>                      Search the entity catalog
  .filter <field> <op> [value] [and|or]  Add a filter (eq, ne, contains, gt, lt, ge, le, startswith, endswith, null, notnull)
  .clearfilters                          Remove all filters
  .sort <field> [asc|desc]               Sort (toggles without direction)
  .join <target> <curField> <tgtField> [inner]
                                         Join another entity on a field pair
  .compare <target>                      Compare entities to find join fields
  .expand <navProperty> [...]            Expand related entities ($expand)
  .clearexpand                           Remove expansions
  .related                               List navigation properties
  .page <n>  /  .pagesize <rows>         Navigate and size pages
  .columns <col1,col2,...>               Set visible columns
  .highlight rows|cells <field> <op> [value] [color]
                                         Highlight matches (red green yellow blue orange purple)
  .clearhighlights                       Remove highlights
  .summarize / .stats / .distinct <field>
  .crosstab <field1> <field2>            Analytics over loaded rows
  .export <csv|tsv|json|sql> [all]       Export current page or all pages
  .recent                                Recently opened entities
  .help / .quit

Any other input sets the quick filter across visible text columns.
`
	fmt.Fprintln(w, help)
}
