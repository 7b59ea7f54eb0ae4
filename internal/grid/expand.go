package grid

import (
	"sort"
	"strings"
)

// processExpandedData flattens $expand payloads into dotted columns.
// To-one navigations contribute "Nav.Field" columns. To-many
// navigations contribute "Nav.__count" plus a preview of the first
// related row; the raw slice stays on the row under "Nav.__data" but
// never becomes a column. The nested value itself is removed. New
// columns are appended to the visible list in first-seen order.
func (s *Session) processExpandedData() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rows) == 0 || len(s.expand) == 0 {
		return
	}

	seen := map[string]bool{}
	var newColumns []string
	addColumn := func(name string) {
		if !seen[name] {
			seen[name] = true
			newColumns = append(newColumns, name)
		}
	}

	for i, row := range s.rows {
		flat := make(Row, len(row))
		for k, v := range row {
			flat[k] = v
		}
		for _, nav := range s.expand {
			switch nested := row[nav].(type) {
			case []any:
				flat[nav+".__count"] = len(nested)
				flat[nav+".__data"] = nested
				addColumn(nav + ".__count")
				if len(nested) > 0 {
					if first, ok := nested[0].(map[string]any); ok {
						for _, k := range sortedKeys(first) {
							if strings.HasPrefix(k, "@") {
								continue
							}
							flat[nav+"."+k] = first[k]
							addColumn(nav + "." + k)
						}
					}
				}
			case map[string]any:
				for _, k := range sortedKeys(nested) {
					if strings.HasPrefix(k, "@") {
						continue
					}
					flat[nav+"."+k] = nested[k]
					addColumn(nav + "." + k)
				}
			}
			delete(flat, nav)
		}
		s.rows[i] = flat
	}

	for _, col := range newColumns {
		present := false
		for _, existing := range s.visibleColumns {
			if existing == col {
				present = true
				break
			}
		}
		if !present {
			s.visibleColumns = append(s.visibleColumns, col)
		}
	}
	if len(newColumns) > 0 {
		s.logger.Debug("flattened expanded data", "columns", newColumns)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

