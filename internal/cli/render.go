package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"

	"github.com/leapstack-labs/odgrid/internal/grid"
	"github.com/leapstack-labs/odgrid/internal/odata"
)

// renderMaxRows caps terminal output; exports are not affected.
const renderMaxRows = 40

// renderCellWidth truncates long cell values for display.
const renderCellWidth = 40

// highlightStyles maps the grid's normalized color names to styles.
var highlightStyles = map[string]lipgloss.Style{
	"red":    lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true),
	"green":  lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true),
	"yellow": lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308")).Bold(true),
	"blue":   lipgloss.NewStyle().Foreground(lipgloss.Color("#3b82f6")).Bold(true),
	"orange": lipgloss.NewStyle().Foreground(lipgloss.Color("#f97316")).Bold(true),
	"purple": lipgloss.NewStyle().Foreground(lipgloss.Color("#a855f7")).Bold(true),
}

// TableRenderer paints the grid as a go-pretty table with highlight
// colors. It implements grid.Renderer.
type TableRenderer struct {
	out   io.Writer
	color bool
}

// NewTableRenderer creates a renderer writing to out. Colors are
// enabled when the terminal supports them.
func NewTableRenderer(out io.Writer) *TableRenderer {
	return &TableRenderer{
		out:   out,
		color: termenv.DefaultOutput().Profile != termenv.Ascii,
	}
}

// RenderData paints the session's current page.
func (r *TableRenderer) RenderData(s *grid.Session) {
	headers := s.VisibleColumns()
	rows := s.Rows()

	if len(headers) == 0 {
		fmt.Fprintln(r.out, "(no entity loaded)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	t.AppendHeader(headerRow)

	shown := 0
	for _, row := range rows {
		if shown == renderMaxRows {
			break
		}
		rowColor := s.RowHighlightColor(row)
		cells := make(table.Row, len(headers))
		for i, h := range headers {
			text := cellText(row[h])
			color := rowColor
			if c := s.CellHighlightColor(row, h); c != "" {
				color = c
			}
			cells[i] = r.paint(text, color)
		}
		t.AppendRow(cells)
		shown++
	}
	t.Render()

	fmt.Fprintln(r.out, r.footer(s, shown, len(rows)))
}

func (r *TableRenderer) paint(text, color string) string {
	if color == "" || !r.color {
		return text
	}
	style, ok := highlightStyles[color]
	if !ok {
		return text
	}
	return style.Render(text)
}

func (r *TableRenderer) footer(s *grid.Session, shown, loaded int) string {
	page, size := s.Page()
	parts := []string{
		fmt.Sprintf("%s: page %d/%d, %d of %d rows (page size %d)",
			s.CurrentEntity(), page, s.TotalPages(), loaded, s.TotalCount(), size),
	}
	if shown < loaded {
		parts = append(parts, fmt.Sprintf("showing first %d", shown))
	}
	if fs := s.BuildFilterString(); fs != "" {
		parts = append(parts, "filter: "+fs)
	}
	if qf := s.QuickFilter(); qf != "" {
		parts = append(parts, "quick filter: "+qf)
	}
	if join := s.ActiveJoin(); join != nil {
		mode := "left"
		if join.InnerOnly {
			mode = "inner"
		}
		parts = append(parts, fmt.Sprintf("join: %s on %s=%s (%s)", join.TargetEntity, join.CurrentField, join.TargetField, mode))
		if dropped := s.FilteredByJoin(); dropped > 0 {
			parts = append(parts, fmt.Sprintf("%d rows hidden by inner join", dropped))
		}
	}
	if sc := s.SortConfig(); sc.Field != "" {
		parts = append(parts, "sort: "+sc.Field+" "+sc.Direction)
	}
	return strings.Join(parts, " | ")
}

func cellText(v any) string {
	if v == nil {
		return ""
	}
	return odata.Truncate(strings.ReplaceAll(fmt.Sprint(v), "\n", " "), renderCellWidth)
}
