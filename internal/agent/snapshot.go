package agent

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/odgrid/internal/grid"
)

// snapshotSampleRows caps how many rows a snapshot carries into the
// prompt.
const snapshotSampleRows = 50

// Snapshot is the grid state the model sees: identity, shape, and a
// bounded sample of the loaded rows rendered as strings.
type Snapshot struct {
	Entity        string
	TotalCount    int64
	DisplayedRows int
	TotalPages    int
	CurrentPage   int
	PageSize      int
	Headers       []string
	SampleRows    [][]string
	Filters       []grid.Filter
	Sort          grid.Sort
	Join          *grid.JoinSpec
}

// TakeSnapshot captures the session state.
func TakeSnapshot(s *grid.Session) Snapshot {
	rows := s.Rows()
	headers := s.VisibleColumns()
	page, size := s.Page()

	sample := make([][]string, 0, snapshotSampleRows)
	for _, row := range rows {
		if len(sample) == snapshotSampleRows {
			break
		}
		cells := make([]string, len(headers))
		for i, h := range headers {
			if v, ok := row[h]; ok && v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		sample = append(sample, cells)
	}

	return Snapshot{
		Entity:        s.CurrentEntity(),
		TotalCount:    s.TotalCount(),
		DisplayedRows: len(rows),
		TotalPages:    s.TotalPages(),
		CurrentPage:   page,
		PageSize:      size,
		Headers:       headers,
		SampleRows:    sample,
		Filters:       s.Filters(),
		Sort:          s.SortConfig(),
		Join:          s.ActiveJoin(),
	}
}

// sampleTable renders up to n sample rows as a pipe-separated table,
// headers first.
func (sn Snapshot) sampleTable(n int) string {
	var b strings.Builder
	b.WriteString(strings.Join(sn.Headers, " | "))
	for i, row := range sn.SampleRows {
		if i == n {
			break
		}
		b.WriteString("\n" + strings.Join(row, " | "))
	}
	return b.String()
}

// joinSummary describes the active join for the prompt.
func (sn Snapshot) joinSummary() string {
	if sn.Join == nil {
		return "none (use compareEntities + joinEntity to join)"
	}
	mode := " (left)"
	if sn.Join.InnerOnly {
		mode = " (inner)"
	}
	return fmt.Sprintf("YES: %s on %s=%s%s", sn.Join.TargetEntity, sn.Join.CurrentField, sn.Join.TargetField, mode)
}

// filterSummary describes the active filters for the prompt.
func (sn Snapshot) filterSummary() string {
	if len(sn.Filters) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(sn.Filters))
	for _, f := range sn.Filters {
		part := fmt.Sprintf("%s %s %q", f.Field, f.Operator, f.Value)
		if f.Logic != "" {
			part = f.Logic + " " + part
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// sortSummary describes the sort for the prompt.
func (sn Snapshot) sortSummary() string {
	if sn.Sort.Field == "" {
		return "none"
	}
	return sn.Sort.Field + " " + sn.Sort.Direction
}

// StateSummary is the compact update fed back after mutations.
func (sn Snapshot) StateSummary() string {
	entity := sn.Entity
	if entity == "" {
		entity = "none"
	}
	return fmt.Sprintf("Data updated. Entity: %s, %d total records, showing %d rows, page %d/%d. Columns: %s. Sample:\n%s",
		entity, sn.TotalCount, sn.DisplayedRows, sn.CurrentPage, sn.TotalPages,
		strings.Join(sn.Headers, ", "), sn.sampleTable(10))
}
