package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHighlightRuleMatches(t *testing.T) {
	row := Row{"Status": "Open", "Amount": 25.0, "Notes": nil}

	tests := []struct {
		name string
		rule HighlightRule
		want bool
	}{
		{"eq match", HighlightRule{Field: "Status", Operator: "eq", Value: "Open"}, true},
		{"eq miss", HighlightRule{Field: "Status", Operator: "eq", Value: "Closed"}, false},
		{"ne", HighlightRule{Field: "Status", Operator: "ne", Value: "Closed"}, true},
		{"contains case-insensitive", HighlightRule{Field: "Status", Operator: "contains", Value: "OPE"}, true},
		{"gt", HighlightRule{Field: "Amount", Operator: "gt", Value: "20"}, true},
		{"gt miss", HighlightRule{Field: "Amount", Operator: "gt", Value: "30"}, false},
		{"lt", HighlightRule{Field: "Amount", Operator: "lt", Value: "30"}, true},
		{"ge boundary", HighlightRule{Field: "Amount", Operator: "ge", Value: "25"}, true},
		{"le boundary", HighlightRule{Field: "Amount", Operator: "le", Value: "25"}, true},
		{"gt on non-numeric", HighlightRule{Field: "Status", Operator: "gt", Value: "5"}, false},
		{"null on nil", HighlightRule{Field: "Notes", Operator: "null"}, true},
		{"null on missing field", HighlightRule{Field: "Absent", Operator: "null"}, true},
		{"notnull", HighlightRule{Field: "Status", Operator: "notnull"}, true},
		{"notnull on nil", HighlightRule{Field: "Notes", Operator: "notnull"}, false},
		{"unknown operator falls back to eq", HighlightRule{Field: "Status", Operator: "weird", Value: "Open"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(row))
		})
	}
}

func TestHighlightCounts(t *testing.T) {
	s := sessionWithRows([]Row{
		{"Status": "Open"},
		{"Status": "Open"},
		{"Status": "Closed"},
	})

	assert.Equal(t, 2, s.HighlightRows("Status", "eq", "Open", "green"))
	assert.Equal(t, 1, s.HighlightCells("Status", "eq", "Closed", "red"))
	assert.Len(t, s.Highlights(), 2, "rules accumulate")

	s.ClearHighlights()
	assert.Empty(t, s.Highlights())
}

func TestHighlightColorLookup(t *testing.T) {
	s := sessionWithRows([]Row{{"Status": "Open"}})
	s.HighlightRows("Status", "eq", "Open", "mauve")
	s.HighlightCells("Status", "eq", "Open", "blue")

	row := Row{"Status": "Open"}
	assert.Equal(t, "yellow", s.RowHighlightColor(row), "unknown colors default to yellow")
	assert.Equal(t, "blue", s.CellHighlightColor(row, "Status"))
	assert.Empty(t, s.CellHighlightColor(row, "Other"))
	assert.Empty(t, s.RowHighlightColor(Row{"Status": "Closed"}))
}
