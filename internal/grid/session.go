// Package grid holds the browsing session: one entity's page of rows
// plus the filters, sort, join, expand, and highlight state applied to
// it. It implements the client-side relational merge engine (hash
// join, semi-join pushdown, expand flattening) over paginated remote
// data, the analysis functions, and the export serializers.
package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

// Row is one grid record, column name to value.
type Row = odata.Row

// Querier is the transport surface the session depends on.
type Querier interface {
	QueryEntity(ctx context.Context, entity string, opts odata.QueryOptions) (*odata.QueryResult, error)
	GetEntitySchema(ctx context.Context, entity string) (*odata.Schema, error)
	ListEntities(ctx context.Context) ([]*odata.Schema, error)
}

// Renderer repaints the grid after a data mutation. Implementations
// must tolerate being called with any session state.
type Renderer interface {
	RenderData(s *Session)
}

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(s *Session)

// RenderData calls f.
func (f RenderFunc) RenderData(s *Session) { f(s) }

// Filter is one predicate in the filter list. Logic is "" for the
// first filter, otherwise "and" or "or" connecting it to the previous
// condition. Field may be dotted ("Entity.Field") to reference the
// active join's target entity.
type Filter struct {
	Field    string
	Operator string
	Value    string
	Logic    string
}

// Sort is the active ordering, if any.
type Sort struct {
	Field     string
	Direction string
}

// JoinSpec describes the active join so it can be reapplied
// identically after any later page reload.
type JoinSpec struct {
	TargetEntity    string
	TargetSchema    *odata.Schema
	CurrentField    string
	TargetField     string
	SelectedColumns []string
	InnerOnly       bool
}

// Defaults and caps.
const (
	DefaultPageSize       = 100
	MaxPageSize           = 100000
	defaultVisibleColumns = 15
	fallbackSelectColumns = 20
	joinSelectColumns     = 20
	joinSmallKeyLimit     = 10
	joinFilteredTop       = 5000
	joinUnfilteredTop     = 10000
	semiJoinProbeTop      = 1000
	semiJoinValueCap      = 100
)

// Session is the single mutable grid state for one browsing session.
// All access goes through its methods; a mutex guards the state even
// though use is effectively single-flight.
type Session struct {
	querier  Querier
	renderer Renderer
	logger   *slog.Logger

	mu sync.Mutex

	currentEntity string
	schema        *odata.Schema
	rows          []Row
	totalCount    int64
	queryTime     int64 // milliseconds, last load

	filters        []Filter
	sort           Sort
	expand         []string
	activeJoin     *JoinSpec
	visibleColumns []string
	currentPage    int
	pageSize       int
	quickFilter    string
	highlights     []HighlightRule

	filteredByJoin int

	// deferReload gates whether mutating operations reload
	// immediately; reloadNeeded accumulates the pending reload.
	deferReload  bool
	reloadNeeded bool

	// lastLoadError is the side channel the agent consumes: a short,
	// actionable description of the most recent load failure.
	lastLoadError string

	// renderSeq increments on every repaint; the agent loop observes
	// it as the render-settle signal.
	renderSeq uint64

	allEntities []*odata.Schema
	schemaCache map[string]*odata.Schema
}

// NewSession creates a session. renderer may be nil (no repaints);
// logger may be nil.
func NewSession(querier Querier, renderer Renderer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		querier:     querier,
		renderer:    renderer,
		logger:      logger,
		currentPage: 1,
		pageSize:    DefaultPageSize,
		schemaCache: map[string]*odata.Schema{},
	}
}

// Accessors used by rendering, snapshots, and tests. They copy where
// callers could otherwise mutate shared state.

// CurrentEntity returns the loaded entity name, or "".
func (s *Session) CurrentEntity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentEntity
}

// Schema returns the loaded entity's schema, or nil.
func (s *Session) Schema() *odata.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// Rows returns the current page's rows.
func (s *Session) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]Row, len(s.rows))
	copy(rows, s.rows)
	return rows
}

// TotalCount returns the server-reported cardinality of the base
// query, unadjusted for inner-join drops.
func (s *Session) TotalCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCount
}

// Filters returns the active filter list.
func (s *Session) Filters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	filters := make([]Filter, len(s.filters))
	copy(filters, s.filters)
	return filters
}

// SortConfig returns the active sort.
func (s *Session) SortConfig() Sort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sort
}

// ActiveJoin returns the active join descriptor, or nil.
func (s *Session) ActiveJoin() *JoinSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJoin
}

// VisibleColumns returns the display-ordered column list.
func (s *Session) VisibleColumns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols := make([]string, len(s.visibleColumns))
	copy(cols, s.visibleColumns)
	return cols
}

// Page returns the 1-based current page and the page size.
func (s *Session) Page() (page, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPage, s.pageSize
}

// TotalPages derives the page count from the base total. At least 1.
func (s *Session) TotalPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPagesLocked()
}

func (s *Session) totalPagesLocked() int {
	if s.pageSize <= 0 {
		return 1
	}
	pages := int((s.totalCount + int64(s.pageSize) - 1) / int64(s.pageSize))
	if pages < 1 {
		pages = 1
	}
	return pages
}

// Expand returns the active $expand navigation properties.
func (s *Session) Expand() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	expand := make([]string, len(s.expand))
	copy(expand, s.expand)
	return expand
}

// QuickFilter returns the free-text quick filter.
func (s *Session) QuickFilter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quickFilter
}

// FilteredByJoin returns how many rows the inner join dropped from
// the current page.
func (s *Session) FilteredByJoin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filteredByJoin
}

// RenderSeq returns the repaint counter. It changes every time the
// renderer runs, which is the settle signal the agent loop waits on.
func (s *Session) RenderSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderSeq
}

// LastLoadError returns and clears the load-failure side channel.
func (s *Session) LastLoadError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.lastLoadError
	s.lastLoadError = ""
	return msg
}

// SetDeferReload switches the session between immediate and deferred
// reload mode. Used by the mutation batcher.
func (s *Session) SetDeferReload(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferReload = on
}

// ConsumeReloadNeeded reports and clears the pending-reload flag.
func (s *Session) ConsumeReloadNeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	needed := s.reloadNeeded
	s.reloadNeeded = false
	return needed
}

// maybeReload either performs the load cycle or, in deferred mode,
// records that one is needed.
func (s *Session) maybeReload(ctx context.Context) error {
	s.mu.Lock()
	if s.deferReload {
		s.reloadNeeded = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.LoadData(ctx)
}

var versionedEntity = regexp.MustCompile(`V\d+$`)

// AllEntities returns the entity catalog, fetching it on first use.
func (s *Session) AllEntities(ctx context.Context) ([]*odata.Schema, error) {
	s.mu.Lock()
	if s.allEntities != nil {
		entities := s.allEntities
		s.mu.Unlock()
		return entities, nil
	}
	s.mu.Unlock()

	entities, err := s.querier.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.allEntities = entities
	s.mu.Unlock()
	return entities, nil
}

// ResolveEntityName auto-corrects a near-miss entity name against the
// catalog: exact match wins, then case-insensitive exact, then the
// best substring match (versioned data entities first, shorter names
// first). Unknown names come back unchanged for the caller to reject.
func (s *Session) ResolveEntityName(ctx context.Context, name string) string {
	entities, err := s.AllEntities(ctx)
	if err != nil || len(entities) == 0 {
		return name
	}
	for _, e := range entities {
		if e.Name == name {
			return name
		}
	}

	q := strings.ToLower(name)
	var matches []*odata.Schema
	for _, e := range entities {
		if strings.Contains(strings.ToLower(e.Name), q) ||
			(e.Label != "" && strings.Contains(strings.ToLower(e.Label), q)) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return name
	}
	for _, e := range matches {
		if strings.EqualFold(e.Name, name) {
			return e.Name
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		iv, jv := versionedEntity.MatchString(matches[i].Name), versionedEntity.MatchString(matches[j].Name)
		if iv != jv {
			return iv
		}
		return len(matches[i].Name) < len(matches[j].Name)
	})
	s.logger.Debug("auto-corrected entity name", "from", name, "to", matches[0].Name)
	return matches[0].Name
}

// safe Edm types the service serializes without issues; enum types
// (service-qualified names) are also accepted.
var safeODataTypes = map[string]bool{
	"Edm.String": true, "Edm.Int16": true, "Edm.Int32": true, "Edm.Int64": true,
	"Edm.Decimal": true, "Edm.Double": true, "Edm.Single": true, "Edm.Boolean": true,
	"Edm.Byte": true, "Edm.Date": true, "Edm.DateTime": true, "Edm.DateTimeOffset": true,
	"Edm.Guid": true, "Edm.Binary": true, "Edm.Time": true, "Edm.Duration": true,
}

func isSafeType(t string) bool {
	if t == "" {
		return true
	}
	if safeODataTypes[t] {
		return true
	}
	return odata.IsEnumType(t)
}

// LoadEntity switches the session to a new entity: per-entity state is
// reset, the schema is fetched (probe-reconciled), default visible
// columns chosen, and page 1 loaded. Unknown entities fail before any
// state is touched.
func (s *Session) LoadEntity(ctx context.Context, name string) error {
	name = s.ResolveEntityName(ctx, name)

	if entities, err := s.AllEntities(ctx); err == nil && len(entities) > 0 {
		known := false
		for _, e := range entities {
			if e.Name == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("entity %q does not exist. Use searchEntities() to find the correct name", name)
		}
	}

	schema, err := s.querier.GetEntitySchema(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	if schema == nil || len(schema.Properties) == 0 {
		return fmt.Errorf("could not load schema for %q; entity may not exist or is not an OData entity", name)
	}

	s.mu.Lock()
	s.currentEntity = name
	s.schema = schema
	s.schemaCache[name] = schema
	s.rows = nil
	s.totalCount = 0
	s.filters = nil
	s.sort = Sort{}
	s.expand = nil
	s.activeJoin = nil
	s.filteredByJoin = 0
	s.highlights = nil
	s.quickFilter = ""
	s.currentPage = 1

	s.visibleColumns = nil
	for _, p := range schema.Properties {
		if len(s.visibleColumns) >= defaultVisibleColumns {
			break
		}
		if strings.HasPrefix(p.Name, "@") || strings.HasPrefix(p.Name, "_") {
			continue
		}
		if !isSafeType(p.Type) {
			s.logger.Debug("excluding column from default view", "column", p.Name, "type", p.Type)
			continue
		}
		s.visibleColumns = append(s.visibleColumns, p.Name)
	}
	s.mu.Unlock()

	return s.maybeReload(ctx)
}

// LoadData runs one load cycle in the fixed order: build the base
// query (filters, semi-join pushdown, sort, paging), fetch, flatten
// expand, reapply the active join, apply the client-side quick
// filter, render. Errors are recorded in the side channel as short,
// actionable text.
func (s *Session) LoadData(ctx context.Context) error {
	s.mu.Lock()
	entity := s.currentEntity
	s.lastLoadError = ""
	s.mu.Unlock()
	if entity == "" {
		return fmt.Errorf("no entity loaded")
	}

	err := s.loadData(ctx)
	if err != nil {
		filterStr := s.BuildFilterString()
		var httpErr *odata.HTTPError
		s.mu.Lock()
		if errors.As(err, &httpErr) {
			if filterStr == "" {
				filterStr = "none"
			}
			s.lastLoadError = fmt.Sprintf("Query failed (HTTP %d). Filter was: %s. Clear filters or try a different approach.", httpErr.Status, filterStr)
		} else {
			s.lastLoadError = fmt.Sprintf("Query failed: %s. Clear filters or try a different approach.", odata.Truncate(err.Error(), 120))
		}
		s.mu.Unlock()
	}
	return err
}

func (s *Session) loadData(ctx context.Context) error {
	base, joined := s.separateFiltersByEntity()

	// Filters on joined columns without an active join are invalid
	// leftovers; drop them rather than failing the load.
	joinedKeyFilter := ""
	if len(joined) > 0 {
		s.mu.Lock()
		join := s.activeJoin
		s.mu.Unlock()
		if join == nil {
			s.logger.Warn("joined column filters with no active join, removing")
			s.mu.Lock()
			kept := s.filters[:0]
			for _, f := range s.filters {
				if !strings.Contains(f.Field, ".") {
					kept = append(kept, f)
				}
			}
			s.filters = kept
			s.mu.Unlock()
		} else {
			joinedKeyFilter = s.buildJoinedColumnFilter(ctx, joined)
		}
	}

	filterString := s.buildFilterString(base, joinedKeyFilter)

	s.mu.Lock()
	var orderBy []odata.OrderBy
	if s.sort.Field != "" && !strings.Contains(s.sort.Field, ".") {
		orderBy = append(orderBy, odata.OrderBy{Field: s.sort.Field, Direction: s.sort.Direction})
	}

	// Only safe base columns go into $select; an empty $select would
	// make the service return every column, including problematic
	// ones, so fall back to a bounded safe list from the schema.
	var selectCols []string
	for _, col := range s.visibleColumns {
		if strings.Contains(col, ".") {
			continue
		}
		if isSafeType(s.fieldTypeLocked(col)) {
			selectCols = append(selectCols, col)
		} else {
			s.logger.Debug("excluding column from $select", "column", col)
		}
	}
	if len(selectCols) == 0 && s.schema != nil {
		for _, p := range s.schema.Properties {
			if len(selectCols) >= fallbackSelectColumns {
				break
			}
			if isSafeType(p.Type) {
				selectCols = append(selectCols, p.Name)
			}
		}
	}

	entity := s.currentEntity
	opts := odata.QueryOptions{
		Select:  selectCols,
		Filter:  filterString,
		OrderBy: orderBy,
		Expand:  append([]string(nil), s.expand...),
		Top:     s.pageSize,
		Skip:    (s.currentPage - 1) * s.pageSize,
		Count:   true,
	}
	s.mu.Unlock()

	result, err := s.querier.QueryEntity(ctx, entity, opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.rows = result.Data
	if result.HasCount {
		s.totalCount = result.Count
	} else {
		s.totalCount = int64(len(result.Data))
	}
	s.queryTime = result.QueryTime.Milliseconds()
	s.filteredByJoin = 0
	hasExpand := len(s.expand) > 0
	hasJoin := s.activeJoin != nil
	s.mu.Unlock()

	if hasExpand {
		s.processExpandedData()
	}
	if hasJoin {
		s.reapplyJoin(ctx)
	}
	s.applyClientSideQuickFilter()

	s.renderData()
	return nil
}

// renderData triggers the render collaborator and bumps the settle
// counter.
func (s *Session) renderData() {
	s.mu.Lock()
	s.renderSeq++
	renderer := s.renderer
	s.mu.Unlock()
	if renderer != nil {
		renderer.RenderData(s)
	}
}
