package grid

import (
	"strconv"
	"strings"
)

// HighlightKind distinguishes cell and whole-row highlights.
type HighlightKind string

const (
	HighlightCell HighlightKind = "cell"
	HighlightRow  HighlightKind = "row"
)

// HighlightRule marks matching cells or rows with a color. Rules stay
// on the session so repaints can reapply them.
type HighlightRule struct {
	Kind     HighlightKind
	Field    string
	Operator string
	Value    string
	Color    string
}

var highlightColors = map[string]bool{
	"red": true, "green": true, "yellow": true,
	"blue": true, "orange": true, "purple": true,
}

// NormalizedColor returns the rule's color, defaulting unknown colors
// to yellow.
func (r HighlightRule) NormalizedColor() string {
	if highlightColors[r.Color] {
		return r.Color
	}
	return "yellow"
}

// Matches reports whether the rule matches a row. Comparisons are
// string-based except gt/lt/ge/le, which require a numeric cell.
func (r HighlightRule) Matches(row Row) bool {
	raw, ok := row[r.Field]
	var strVal string
	if ok && raw != nil {
		strVal = stringify(raw)
	}
	numVal, numOK := toFloat(raw)

	switch r.Operator {
	case "ne":
		return strVal != r.Value
	case "contains":
		return strings.Contains(strings.ToLower(strVal), strings.ToLower(r.Value))
	case "gt", "lt", "ge", "le":
		if !numOK {
			return false
		}
		want, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil {
			return false
		}
		switch r.Operator {
		case "gt":
			return numVal > want
		case "lt":
			return numVal < want
		case "ge":
			return numVal >= want
		default:
			return numVal <= want
		}
	case "null":
		return raw == nil || strVal == ""
	case "notnull":
		return raw != nil && strVal != ""
	default: // eq and anything unrecognized
		return strVal == r.Value
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// HighlightCells adds a cell highlight rule and returns how many rows
// on the current page match it.
func (s *Session) HighlightCells(field, operator, value, color string) int {
	return s.addHighlight(HighlightRule{Kind: HighlightCell, Field: field, Operator: operator, Value: value, Color: color})
}

// HighlightRows adds a row highlight rule and returns how many rows on
// the current page match it.
func (s *Session) HighlightRows(field, operator, value, color string) int {
	return s.addHighlight(HighlightRule{Kind: HighlightRow, Field: field, Operator: operator, Value: value, Color: color})
}

func (s *Session) addHighlight(rule HighlightRule) int {
	s.mu.Lock()
	s.highlights = append(s.highlights, rule)
	rows := s.rows
	s.mu.Unlock()

	count := 0
	for _, row := range rows {
		if rule.Matches(row) {
			count++
		}
	}
	s.renderData()
	return count
}

// ClearHighlights removes every highlight rule.
func (s *Session) ClearHighlights() {
	s.mu.Lock()
	s.highlights = nil
	s.mu.Unlock()
	s.renderData()
}

// Highlights returns the active highlight rules.
func (s *Session) Highlights() []HighlightRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := make([]HighlightRule, len(s.highlights))
	copy(rules, s.highlights)
	return rules
}

// RowHighlightColor returns the color of the first row rule matching a
// row, or "" when none does. The renderer uses it when painting.
func (s *Session) RowHighlightColor(row Row) string {
	for _, rule := range s.Highlights() {
		if rule.Kind == HighlightRow && rule.Matches(row) {
			return rule.NormalizedColor()
		}
	}
	return ""
}

// CellHighlightColor returns the color of the first cell rule matching
// a row on the given column, or "".
func (s *Session) CellHighlightColor(row Row, column string) string {
	for _, rule := range s.Highlights() {
		if rule.Kind == HighlightCell && rule.Field == column && rule.Matches(row) {
			return rule.NormalizedColor()
		}
	}
	return ""
}
