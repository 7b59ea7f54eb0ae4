package grid

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

// fetchJoinTargetRows pulls the target-side rows for a set of join key
// values. Small key sets (≤10 distinct) become one OR-equality
// filtered query; larger sets degrade to a capped unfiltered query
// filtered client-side by membership. Very high-cardinality keys
// therefore get best-effort coverage, not a guaranteed-complete join.
func (s *Session) fetchJoinTargetRows(ctx context.Context, join *JoinSpec, keyValues []string) ([]Row, error) {
	targetFieldType := join.TargetSchema.FieldType(join.TargetField)

	if len(keyValues) <= joinSmallKeyLimit {
		conds := make([]string, 0, len(keyValues))
		for _, v := range keyValues {
			switch {
			case odata.IsEnumType(targetFieldType):
				conds = append(conds, join.TargetField+" eq "+targetFieldType+"'"+odata.EscapeString(v)+"'")
			case odata.IsNumericType(targetFieldType):
				conds = append(conds, join.TargetField+" eq "+v)
			default:
				conds = append(conds, join.TargetField+" eq '"+odata.EscapeString(v)+"'")
			}
		}
		result, err := s.querier.QueryEntity(ctx, join.TargetEntity, odata.QueryOptions{
			Select: join.SelectedColumns,
			Filter: "(" + strings.Join(conds, " or ") + ")",
			Top:    joinFilteredTop,
		})
		if err != nil {
			return nil, err
		}
		return result.Data, nil
	}

	result, err := s.querier.QueryEntity(ctx, join.TargetEntity, odata.QueryOptions{
		Select: join.SelectedColumns,
		Top:    joinUnfilteredTop,
	})
	if err != nil {
		return nil, err
	}
	keySet := map[string]bool{}
	for _, v := range keyValues {
		keySet[v] = true
	}
	var matched []Row
	for _, row := range result.Data {
		if keySet[stringify(row[join.TargetField])] {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

// buildLookup keys target rows by their stringified join-field value.
// Every matching row is kept, but merges only ever use the first.
func buildLookup(rows []Row, field string) map[string][]Row {
	lookup := map[string][]Row{}
	for _, row := range rows {
		key := stringify(row[field])
		lookup[key] = append(lookup[key], row)
	}
	return lookup
}

// mergeJoinedRows attaches target columns to each base row under
// "TargetEntity.Column" names, first match wins. With innerOnly,
// unmatched base rows are dropped; otherwise they keep nil joined
// columns. Returns the merged rows and the dropped count.
func mergeJoinedRows(base []Row, lookup map[string][]Row, join *JoinSpec) (merged []Row, dropped int) {
	for _, row := range base {
		targetRows := lookup[stringify(row[join.CurrentField])]
		hasMatch := len(targetRows) > 0
		if join.InnerOnly && !hasMatch {
			dropped++
			continue
		}
		out := make(Row, len(row)+len(join.SelectedColumns))
		for k, v := range row {
			out[k] = v
		}
		var target Row
		if hasMatch {
			target = targetRows[0]
		}
		for _, col := range join.SelectedColumns {
			var v any
			if target != nil {
				v = target[col]
			}
			out[join.TargetEntity+"."+col] = v
		}
		merged = append(merged, out)
	}
	return merged, dropped
}

// executeJoin runs the hash join for the current page against a fully
// prepared join spec, replaces the page rows with the merged result,
// and stores the join descriptor for reapplication on later loads.
func (s *Session) executeJoin(ctx context.Context, join *JoinSpec) error {
	// A new join invalidates filters on the previous join's columns.
	s.mu.Lock()
	var kept []Filter
	removed := 0
	for _, f := range s.filters {
		if strings.Contains(f.Field, ".") {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	if removed > 0 {
		s.logger.Debug("cleared joined-column filters from previous join", "count", removed)
		s.filters = kept
	}
	rows := s.rows
	s.mu.Unlock()

	keyValues := distinctValues(rows, join.CurrentField)
	if len(keyValues) == 0 {
		return fmt.Errorf("no values found in join field %q", join.CurrentField)
	}
	s.logger.Debug("executing join", "target", join.TargetEntity, "keys", len(keyValues), "inner", join.InnerOnly)

	targetRows, err := s.fetchJoinTargetRows(ctx, join, keyValues)
	if err != nil {
		return fmt.Errorf("join query against %s failed: %w", join.TargetEntity, err)
	}

	lookup := buildLookup(targetRows, join.TargetField)
	merged, droppedCount := mergeJoinedRows(rows, lookup, join)

	s.mu.Lock()
	s.rows = merged
	s.filteredByJoin = droppedCount
	s.activeJoin = join

	// Visible columns: base columns keep their order, then the joined
	// columns; any previous join's dotted columns are replaced.
	var baseCols []string
	for _, col := range s.visibleColumns {
		if !strings.Contains(col, ".") {
			baseCols = append(baseCols, col)
		}
	}
	for _, col := range join.SelectedColumns {
		baseCols = append(baseCols, join.TargetEntity+"."+col)
	}
	s.visibleColumns = baseCols
	s.mu.Unlock()

	s.renderData()
	return nil
}

// JoinEntity is the programmatic join entry: it resolves the target,
// probes one row to learn which columns actually come back, picks up
// to 20 safe display columns with the join field first, and executes
// the hash join against the current page.
func (s *Session) JoinEntity(ctx context.Context, targetEntity, currentField, targetField string, innerOnly bool) error {
	s.mu.Lock()
	if s.currentEntity == "" || s.schema == nil {
		s.mu.Unlock()
		return fmt.Errorf("load an entity first")
	}
	s.mu.Unlock()

	targetEntity = s.ResolveEntityName(ctx, targetEntity)

	// The metadata can declare properties the entity never returns;
	// a one-row probe gives the authoritative column set.
	var realColumns map[string]bool
	if probe, err := s.querier.QueryEntity(ctx, targetEntity, odata.QueryOptions{Top: 1}); err != nil {
		s.logger.Warn("join probe failed, using schema only", "entity", targetEntity, "error", err)
	} else if len(probe.Data) > 0 {
		realColumns = map[string]bool{}
		for k := range probe.Data[0] {
			if !strings.HasPrefix(k, "@") && !strings.HasPrefix(k, "_") {
				realColumns[k] = true
			}
		}
	}

	schema, err := s.targetSchema(ctx, targetEntity)
	if err != nil {
		return err
	}

	if realColumns != nil && !realColumns[targetField] {
		available := make([]string, 0, 10)
		for col := range realColumns {
			if len(available) == 10 {
				break
			}
			available = append(available, col)
		}
		return fmt.Errorf("field %q does not exist on %s. Available: %s...",
			targetField, targetEntity, strings.Join(available, ", "))
	}

	var safeColumns []string
	for _, p := range schema.Properties {
		if !isSafeType(p.Type) {
			continue
		}
		if realColumns != nil && !realColumns[p.Name] {
			s.logger.Debug("join skipping column absent from entity response", "column", p.Name)
			continue
		}
		safeColumns = append(safeColumns, p.Name)
	}

	selected := []string{targetField}
	for _, c := range safeColumns {
		if c != targetField {
			selected = append(selected, c)
		}
	}
	if len(selected) > joinSelectColumns {
		selected = selected[:joinSelectColumns]
	}

	return s.executeJoin(ctx, &JoinSpec{
		TargetEntity:    targetEntity,
		TargetSchema:    schema,
		CurrentField:    currentField,
		TargetField:     targetField,
		SelectedColumns: selected,
		InnerOnly:       innerOnly,
	})
}

// targetSchema returns a join target's schema, cached per session.
func (s *Session) targetSchema(ctx context.Context, entity string) (*odata.Schema, error) {
	s.mu.Lock()
	if cached, ok := s.schemaCache[entity]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	schema, err := s.querier.GetEntitySchema(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("could not load schema for %s: %w", entity, err)
	}
	if schema == nil || len(schema.Properties) == 0 {
		return nil, fmt.Errorf("could not load schema for %s", entity)
	}
	s.mu.Lock()
	s.schemaCache[entity] = schema
	s.mu.Unlock()
	return schema, nil
}

// reapplyJoin re-runs the stored join against a freshly loaded page.
// Failures degrade to an unjoined page rather than failing the load.
func (s *Session) reapplyJoin(ctx context.Context) {
	s.mu.Lock()
	join := s.activeJoin
	rows := s.rows
	s.mu.Unlock()
	if join == nil {
		return
	}

	keyValues := distinctValues(rows, join.CurrentField)
	if len(keyValues) == 0 {
		s.logger.Warn("join field has no values in current data", "field", join.CurrentField)
		return
	}

	targetRows, err := s.fetchJoinTargetRows(ctx, join, keyValues)
	if err != nil {
		s.logger.Warn("join reapplication failed, treating as no match", "target", join.TargetEntity, "error", err)
		targetRows = nil
	}

	lookup := buildLookup(targetRows, join.TargetField)
	merged, droppedCount := mergeJoinedRows(rows, lookup, join)

	s.mu.Lock()
	s.rows = merged
	s.filteredByJoin = droppedCount
	s.mu.Unlock()
}

// ApplyJoinToAll merges the active join into an arbitrary row set (the
// export-all path). Target rows are fetched in key batches of 100.
// The returned slice honors innerOnly.
func (s *Session) ApplyJoinToAll(ctx context.Context, rows []Row) []Row {
	s.mu.Lock()
	join := s.activeJoin
	s.mu.Unlock()
	if join == nil {
		return rows
	}

	keyValues := distinctValues(rows, join.CurrentField)
	if len(keyValues) == 0 {
		return rows
	}

	var targetRows []Row
	for i := 0; i < len(keyValues); i += semiJoinValueCap {
		end := i + semiJoinValueCap
		if end > len(keyValues) {
			end = len(keyValues)
		}
		fieldType := join.TargetSchema.FieldType(join.TargetField)
		filter := odata.EqualityChain(join.TargetField, fieldType, keyValues[i:end], 0)

		result, err := s.querier.QueryEntity(ctx, join.TargetEntity, odata.QueryOptions{
			Select: join.SelectedColumns,
			Filter: filter,
			Top:    joinFilteredTop,
		})
		if err != nil {
			s.logger.Warn("join batch fetch failed", "error", err)
			continue
		}
		targetRows = append(targetRows, result.Data...)
	}

	lookup := buildLookup(targetRows, join.TargetField)
	merged, _ := mergeJoinedRows(rows, lookup, join)
	return merged
}
