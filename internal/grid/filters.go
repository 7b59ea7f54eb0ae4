package grid

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

const quickFilterColumnCap = 10

// fieldTypeLocked resolves a field's type. Dotted fields are looked up
// in the active join's target schema when the entity part matches it
// (case-insensitive); anything unresolved is treated as a string.
// Callers hold s.mu.
func (s *Session) fieldTypeLocked(field string) string {
	if entity, bare, ok := strings.Cut(field, "."); ok {
		if s.activeJoin != nil && strings.EqualFold(s.activeJoin.TargetEntity, entity) && s.activeJoin.TargetSchema != nil {
			if t := s.activeJoin.TargetSchema.FieldType(bare); t != "" {
				return t
			}
		}
		return "Edm.String"
	}
	if t := s.schema.FieldType(field); t != "" {
		return t
	}
	return "Edm.String"
}

// separateFiltersByEntity splits the filter list into base-entity
// filters and joined-column filters grouped by lowercased entity name.
// Joined filters come back with Field reduced to the bare field name.
func (s *Session) separateFiltersByEntity() (base []Filter, joined map[string][]Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	joined = map[string][]Filter{}
	for _, f := range s.filters {
		if f.Field == "" {
			continue
		}
		if entity, bare, ok := strings.Cut(f.Field, "."); ok {
			g := f
			g.Field = bare
			key := strings.ToLower(entity)
			joined[key] = append(joined[key], g)
		} else {
			base = append(base, f)
		}
	}
	return base, joined
}

// BuildFilterString renders the current base-entity filters (plus the
// server-side quick filter) as one $filter expression. Semi-join
// predicates are not included; they require a query and are added
// inside the load cycle.
func (s *Session) BuildFilterString() string {
	base, _ := s.separateFiltersByEntity()
	return s.buildFilterString(base, "")
}

func (s *Session) buildFilterString(base []Filter, additional string) string {
	var conditions []string

	s.mu.Lock()
	quick := strings.TrimSpace(s.quickFilter)
	schema := s.schema
	joinActive := s.activeJoin != nil
	visible := append([]string(nil), s.visibleColumns...)
	s.mu.Unlock()

	// Quick filter goes server-side only without a join; with a join
	// the merged columns exist client-side only, so the scan happens
	// after the merge instead.
	if quick != "" && schema != nil && !joinActive {
		var stringCols []string
		for _, col := range visible {
			if strings.Contains(col, ".") {
				continue
			}
			if schema.FieldType(col) == "Edm.String" {
				stringCols = append(stringCols, col)
			}
		}
		if len(stringCols) > quickFilterColumnCap {
			stringCols = stringCols[:quickFilterColumnCap]
		}
		if len(stringCols) > 0 {
			pattern := odata.EscapeString(quick)
			if !strings.Contains(quick, "*") {
				pattern = "*" + pattern + "*"
			}
			terms := make([]string, 0, len(stringCols))
			for _, col := range stringCols {
				terms = append(terms, col+" eq '"+pattern+"'")
			}
			conditions = append(conditions, "("+strings.Join(terms, " or ")+")")
		}
	}

	// Advanced filters with their AND/OR connectors, as one group.
	var advanced strings.Builder
	for _, f := range base {
		if strings.Contains(f.Field, ".") {
			continue
		}
		cond := odata.Condition(schema, f.Field, f.Operator, f.Value)
		if cond == "" {
			continue
		}
		if advanced.Len() == 0 {
			advanced.WriteString(cond)
			continue
		}
		logic := f.Logic
		if logic == "" {
			logic = "and"
		}
		advanced.WriteString(" " + logic + " " + cond)
	}
	if advanced.Len() > 0 {
		conditions = append(conditions, "("+advanced.String()+")")
	}

	if additional != "" {
		conditions = append(conditions, additional)
	}
	return strings.Join(conditions, " and ")
}

// buildJoinedColumnFilter implements the semi-join pushdown: filters
// naming the join target's columns are translated into a query against
// the target, and the matching key values come back as an OR-equality
// predicate on the base join field. Zero matches produce a sentinel
// predicate that matches nothing; errors degrade to no predicate.
func (s *Session) buildJoinedColumnFilter(ctx context.Context, joined map[string][]Filter) string {
	s.mu.Lock()
	join := s.activeJoin
	s.mu.Unlock()
	if join == nil {
		return ""
	}

	filters := joined[strings.ToLower(join.TargetEntity)]
	if len(filters) == 0 {
		s.logger.Debug("no filters apply to the joined entity", "entity", join.TargetEntity)
		return ""
	}

	var conds []string
	for _, f := range filters {
		if c := odata.TargetCondition(join.TargetSchema, f.Field, f.Operator, f.Value); c != "" {
			conds = append(conds, c)
		}
	}
	if len(conds) == 0 {
		return ""
	}
	targetFilter := strings.Join(conds, " and ")
	s.logger.Debug("semi-join target query", "entity", join.TargetEntity, "filter", targetFilter)

	result, err := s.querier.QueryEntity(ctx, join.TargetEntity, odata.QueryOptions{
		Select: []string{join.TargetField},
		Filter: targetFilter,
		Top:    semiJoinProbeTop,
	})
	if err != nil {
		s.logger.Warn("semi-join query failed", "entity", join.TargetEntity, "error", err)
		return ""
	}

	values := distinctValues(result.Data, join.TargetField)
	if len(values) == 0 {
		return join.CurrentField + " eq '" + odata.NoMatchSentinel + "'"
	}

	s.mu.Lock()
	fieldType := s.fieldTypeLocked(join.CurrentField)
	s.mu.Unlock()
	return odata.EqualityChain(join.CurrentField, fieldType, values, semiJoinValueCap)
}

// distinctValues collects the distinct non-null stringified values of
// one field, in first-seen order.
func distinctValues(rows []Row, field string) []string {
	seen := map[string]bool{}
	var values []string
	for _, row := range rows {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		str := stringify(v)
		if !seen[str] {
			seen[str] = true
			values = append(values, str)
		}
	}
	return values
}

// stringify renders a decoded JSON value the way the join and filter
// machinery keys on it: integral floats without the trailing ".0".
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// applyClientSideQuickFilter scans every visible column of every row
// for the quick-filter term when a join is active. Case-insensitive
// contains; wildcards are stripped.
func (s *Session) applyClientSideQuickFilter() {
	s.mu.Lock()
	defer s.mu.Unlock()

	term := strings.ToLower(strings.TrimSpace(s.quickFilter))
	if term == "" || s.activeJoin == nil || len(s.rows) == 0 {
		return
	}
	term = strings.ReplaceAll(term, "*", "")
	if term == "" {
		return
	}

	var searchable []string
	for _, col := range s.visibleColumns {
		if !strings.HasPrefix(col, "@") && !strings.HasPrefix(col, "_") {
			searchable = append(searchable, col)
		}
	}

	before := len(s.rows)
	kept := s.rows[:0]
	for _, row := range s.rows {
		for _, col := range searchable {
			if v, ok := row[col]; ok && v != nil &&
				strings.Contains(strings.ToLower(stringify(v)), term) {
				kept = append(kept, row)
				break
			}
		}
	}
	s.rows = kept
	if dropped := before - len(s.rows); dropped > 0 {
		s.logger.Debug("quick filter", "kept", len(s.rows), "dropped", dropped, "term", term)
	}
}

// AddFilter appends one filter. Dotted fields require a matching
// active join; base fields must exist on the loaded schema. The first
// filter carries no connector; later ones default to "and".
func (s *Session) AddFilter(ctx context.Context, field, operator, value, logic string) error {
	s.mu.Lock()
	if entity, _, ok := strings.Cut(field, "."); ok && field != "" {
		if s.activeJoin == nil {
			s.mu.Unlock()
			return fmt.Errorf("cannot filter on %q: no active join. Use joinEntity() first", field)
		}
		if !strings.EqualFold(s.activeJoin.TargetEntity, entity) {
			target := s.activeJoin.TargetEntity
			s.mu.Unlock()
			return fmt.Errorf("cannot filter on %q: joined entity is %q", field, target)
		}
	} else if field != "" && s.schema != nil {
		if s.schema.Property(field) == nil {
			available := make([]string, 0, 10)
			for _, p := range s.schema.Properties {
				if len(available) == 10 {
					break
				}
				available = append(available, p.Name)
			}
			entity := s.currentEntity
			s.mu.Unlock()
			return fmt.Errorf("field %q does not exist on entity %q. Available columns: %s...",
				field, entity, strings.Join(available, ", "))
		}
	}

	if len(s.filters) == 0 {
		logic = ""
	} else if logic == "" {
		logic = "and"
	}
	s.filters = append(s.filters, Filter{Field: field, Operator: operator, Value: value, Logic: logic})
	s.currentPage = 1
	s.mu.Unlock()

	return s.maybeReload(ctx)
}

// ClearAllFilters removes every filter and the quick filter.
func (s *Session) ClearAllFilters(ctx context.Context) error {
	s.mu.Lock()
	s.filters = nil
	s.quickFilter = ""
	s.currentPage = 1
	s.mu.Unlock()
	return s.maybeReload(ctx)
}

// SetQuickFilter sets the free-text search term.
func (s *Session) SetQuickFilter(ctx context.Context, text string) error {
	s.mu.Lock()
	s.quickFilter = text
	s.currentPage = 1
	s.mu.Unlock()
	return s.maybeReload(ctx)
}

// SortByColumn sorts by a column. An empty direction toggles: sorting
// an already-sorted column flips it, a new column starts ascending.
func (s *Session) SortByColumn(ctx context.Context, column, direction string) error {
	s.mu.Lock()
	if column != "" && !strings.Contains(column, ".") && s.schema != nil && s.schema.Property(column) == nil {
		entity := s.currentEntity
		s.mu.Unlock()
		return fmt.Errorf("field %q does not exist on entity %q", column, entity)
	}

	switch {
	case direction != "":
		s.sort = Sort{Field: column, Direction: direction}
	case s.sort.Field == column:
		if s.sort.Direction == "asc" {
			s.sort.Direction = "desc"
		} else {
			s.sort.Direction = "asc"
		}
	default:
		s.sort = Sort{Field: column, Direction: "asc"}
	}
	s.currentPage = 1
	s.mu.Unlock()

	return s.maybeReload(ctx)
}

// GoToPage navigates to a page, clamped to the valid range. Staying on
// the same page is a no-op.
func (s *Session) GoToPage(ctx context.Context, page int) error {
	s.mu.Lock()
	totalPages := s.totalPagesLocked()
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	if page == s.currentPage {
		s.mu.Unlock()
		return nil
	}
	s.currentPage = page
	s.mu.Unlock()
	return s.maybeReload(ctx)
}

// SetPageSize changes the page size, clamped to 1..100000, and resets
// to page 1.
func (s *Session) SetPageSize(ctx context.Context, size int) error {
	if size < 1 {
		size = 1
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	s.mu.Lock()
	s.pageSize = size
	s.currentPage = 1
	s.mu.Unlock()
	return s.maybeReload(ctx)
}

// SetVisibleColumns replaces the visible column list, keeping only
// columns the schema declares plus dotted (joined/expanded) names.
// An empty list is ignored.
func (s *Session) SetVisibleColumns(ctx context.Context, columns []string) error {
	if len(columns) == 0 {
		return nil
	}
	s.mu.Lock()
	var kept []string
	for _, c := range columns {
		if strings.Contains(c, ".") || (s.schema != nil && s.schema.Property(c) != nil) {
			kept = append(kept, c)
		}
	}
	s.visibleColumns = kept
	s.mu.Unlock()
	return s.maybeReload(ctx)
}

// ExpandEntity adds navigation properties to $expand. Unknown names
// fail with the available properties listed.
func (s *Session) ExpandEntity(ctx context.Context, names ...string) error {
	s.mu.Lock()
	if s.schema == nil {
		s.mu.Unlock()
		return fmt.Errorf("no entity loaded. Load an entity first")
	}
	navProps := s.schema.NavigationProperties
	for _, name := range names {
		found := false
		for _, np := range navProps {
			if np.Name == name {
				found = true
				break
			}
		}
		if !found {
			available := make([]string, 0, 10)
			for _, np := range navProps {
				if len(available) == 10 {
					break
				}
				available = append(available, np.Name)
			}
			entity := s.currentEntity
			s.mu.Unlock()
			return fmt.Errorf("navigation property %q not found on %s. Call getRelatedEntities() first to see available properties. Available: %s",
				name, entity, strings.Join(available, ", "))
		}
		already := false
		for _, e := range s.expand {
			if e == name {
				already = true
				break
			}
		}
		if !already {
			s.expand = append(s.expand, name)
		}
	}
	s.currentPage = 1
	s.mu.Unlock()
	return s.maybeReload(ctx)
}

// ClearExpand removes every expansion and the columns it contributed.
func (s *Session) ClearExpand(ctx context.Context) error {
	s.mu.Lock()
	if len(s.expand) == 0 {
		s.mu.Unlock()
		return nil
	}
	expanded := map[string]bool{}
	for _, e := range s.expand {
		expanded[e] = true
	}
	var kept []string
	for _, col := range s.visibleColumns {
		prefix, _, _ := strings.Cut(col, ".")
		if !expanded[prefix] {
			kept = append(kept, col)
		}
	}
	s.visibleColumns = kept
	s.expand = nil
	s.currentPage = 1
	s.mu.Unlock()
	return s.maybeReload(ctx)
}
