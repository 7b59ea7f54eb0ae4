package grid

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

// Client-side analysis over the loaded page. Each function returns a
// plain-text report meant to be read back verbatim; none of them
// mutates session state or issues queries except where noted.

const (
	summarizeTop     = 30
	distinctShown    = 50
	crossTabTop      = 30
	searchShown      = 30
	compareSampleCap = 500
	compareDistinct  = 5000
	compareOverlap   = 50
)

// displayValue renders a cell for analysis output, with nil shown as
// "(blank)".
func displayValue(v any) string {
	if v == nil {
		return "(blank)"
	}
	return stringify(v)
}

// formatNum prints a float the shortest exact way, like JSON numbers.
func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// valueCount is one bucket in a frequency table. order preserves the
// first-seen position so equal counts sort deterministically.
type valueCount struct {
	value string
	count int
	order int
}

func countValues(rows []Row, key func(Row) string) []valueCount {
	index := map[string]int{}
	var counts []valueCount
	for _, row := range rows {
		k := key(row)
		if i, ok := index[k]; ok {
			counts[i].count++
			continue
		}
		index[k] = len(counts)
		counts = append(counts, valueCount{value: k, count: 1, order: len(counts)})
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].order < counts[j].order
	})
	return counts
}

// SummarizeData reports the value distribution of one column: top 30
// values by count with percentages of the loaded rows.
func (s *Session) SummarizeData(field string) string {
	rows := s.Rows()
	if len(rows) == 0 {
		return "No data loaded"
	}

	counts := countValues(rows, func(r Row) string { return displayValue(r[field]) })
	unique := len(counts)
	if len(counts) > summarizeTop {
		counts = counts[:summarizeTop]
	}

	total := len(rows)
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %q (%d rows, %d unique values):", field, total, unique)
	for _, c := range counts {
		fmt.Fprintf(&b, "\n  %s: %d (%.1f%%)", c.value, c.count, float64(c.count)/float64(total)*100)
	}
	return b.String()
}

// ComputeStats reports min, max, sum, average, and median over the
// numeric values of one column. Non-numeric cells are skipped.
func (s *Session) ComputeStats(field string) string {
	rows := s.Rows()
	if len(rows) == 0 {
		return "No data loaded"
	}

	var nums []float64
	for _, row := range rows {
		switch v := row[field].(type) {
		case float64:
			nums = append(nums, v)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				nums = append(nums, f)
			}
		}
	}
	if len(nums) == 0 {
		return fmt.Sprintf("%q has no numeric values", field)
	}

	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	var sum float64
	for _, n := range nums {
		sum += n
	}
	var median float64
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	} else {
		median = sorted[len(sorted)/2]
	}

	return fmt.Sprintf("Stats for %q (%d values):\n  Min: %s\n  Max: %s\n  Sum: %s\n  Avg: %.2f\n  Median: %s",
		field, len(nums),
		formatNum(sorted[0]), formatNum(sorted[len(sorted)-1]), formatNum(sum),
		sum/float64(len(nums)), formatNum(median))
}

// GetDistinctValues lists the sorted distinct values of one column,
// showing the first 50.
func (s *Session) GetDistinctValues(field string) string {
	rows := s.Rows()
	if len(rows) == 0 {
		return "No data loaded"
	}

	seen := map[string]bool{}
	for _, row := range rows {
		seen[displayValue(row[field])] = true
	}
	vals := make([]string, 0, len(seen))
	for v := range seen {
		vals = append(vals, v)
	}
	sort.Strings(vals)

	shown := vals
	if len(shown) > distinctShown {
		shown = shown[:distinctShown]
	}
	result := fmt.Sprintf("Distinct %q (%d unique):\n%s", field, len(vals), strings.Join(shown, ", "))
	if len(vals) > distinctShown {
		result += fmt.Sprintf("\n...and %d more", len(vals)-distinctShown)
	}
	return result
}

// CrossTab reports the top 30 value combinations of two columns.
func (s *Session) CrossTab(field1, field2 string) string {
	rows := s.Rows()
	if len(rows) == 0 {
		return "No data loaded"
	}

	counts := countValues(rows, func(r Row) string {
		return displayValue(r[field1]) + " × " + displayValue(r[field2])
	})
	if len(counts) > crossTabTop {
		counts = counts[:crossTabTop]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cross-tab %q × %q (top %d):", field1, field2, crossTabTop)
	for _, c := range counts {
		fmt.Fprintf(&b, "\n  %s: %d", c.value, c.count)
	}
	return b.String()
}

// columnMatch is one joinable column pair found by CompareEntities.
type columnMatch struct {
	currentCol string
	targetCol  string
	overlap    int
	overlapPct int
	samples    []string
}

// CompareEntities analyzes how the loaded entity relates to another
// one: exact column-name matches, columns with shared values (sampled
// from the loaded page and 100 target rows), and ready-to-run join
// suggestions. One query against the target is issued.
func (s *Session) CompareEntities(ctx context.Context, targetEntity string) (string, error) {
	s.mu.Lock()
	currentEntity := s.currentEntity
	rows := s.rows
	s.mu.Unlock()
	if currentEntity == "" || len(rows) == 0 {
		return "Load an entity with data first", nil
	}

	targetEntity = s.ResolveEntityName(ctx, targetEntity)

	var currentCols []string
	for _, k := range sortedKeys(rows[0]) {
		if !strings.HasPrefix(k, "@") && !strings.HasPrefix(k, "_") && !strings.Contains(k, ".") {
			currentCols = append(currentCols, k)
		}
	}

	targetResult, err := s.querier.QueryEntity(ctx, targetEntity, odata.QueryOptions{Top: 100})
	if err != nil {
		return "", fmt.Errorf("error comparing with %s: %w", targetEntity, err)
	}
	if len(targetResult.Data) == 0 {
		return fmt.Sprintf("%s has no data to compare with.", targetEntity), nil
	}

	var targetCols []string
	for _, k := range sortedKeys(targetResult.Data[0]) {
		if !strings.HasPrefix(k, "@") && !strings.HasPrefix(k, "_") {
			targetCols = append(targetCols, k)
		}
	}

	targetSet := map[string]bool{}
	for _, c := range targetCols {
		targetSet[c] = true
	}
	var nameMatches []string
	for _, c := range currentCols {
		if targetSet[c] {
			nameMatches = append(nameMatches, c)
		}
	}

	currentDistinct := distinctSets(rows, currentCols, compareSampleCap)
	targetDistinct := distinctSets(targetResult.Data, targetCols, len(targetResult.Data))

	var matches []columnMatch
	for _, cCol := range currentCols {
		cVals, ok := currentDistinct[cCol]
		if !ok {
			continue
		}
		for _, tCol := range targetCols {
			tVals, ok := targetDistinct[tCol]
			if !ok {
				continue
			}
			overlap := 0
			var samples []string
			for _, v := range cVals.ordered {
				if tVals.set[v] {
					overlap++
					if len(samples) < 3 {
						samples = append(samples, v)
					}
					if overlap > compareOverlap {
						break
					}
				}
			}
			if overlap < 2 {
				continue
			}
			smaller := len(cVals.set)
			if len(tVals.set) < smaller {
				smaller = len(tVals.set)
			}
			pct := int(float64(overlap)/float64(smaller)*100 + 0.5)
			if pct >= 10 {
				matches = append(matches, columnMatch{
					currentCol: cCol, targetCol: tCol,
					overlap: overlap, overlapPct: pct, samples: samples,
				})
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].overlapPct > matches[j].overlapPct })

	var b strings.Builder
	fmt.Fprintf(&b, "=== Entity Comparison: %s <-> %s ===\n\n", currentEntity, targetEntity)

	fmt.Fprintf(&b, "EXACT NAME MATCHES (%d):\n", len(nameMatches))
	if len(nameMatches) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, col := range nameMatches {
		fmt.Fprintf(&b, "  - %s\n", col)
	}

	b.WriteString("\nJOINABLE COLUMNS (shared values):\n")
	if len(matches) == 0 {
		b.WriteString("  (no value overlap found in sampled data)\n")
	}
	shown := matches
	if len(shown) > 15 {
		shown = shown[:15]
	}
	for _, m := range shown {
		tag := ""
		if m.currentCol == m.targetCol {
			tag = " [SAME NAME]"
		}
		fmt.Fprintf(&b, "  - %s.%s <-> %s.%s: %d shared values (%d%% overlap)%s, e.g. %q\n",
			currentEntity, m.currentCol, targetEntity, m.targetCol,
			m.overlap, m.overlapPct, tag, strings.Join(m.samples, `", "`))
	}

	b.WriteString("\nBEST JOIN CANDIDATES:\n")
	var best []columnMatch
	for _, m := range matches {
		if m.overlapPct >= 30 && len(best) < 5 {
			best = append(best, m)
		}
	}
	switch {
	case len(best) > 0:
		for _, m := range best {
			fmt.Fprintf(&b, "  joinEntity('%s', '%s', '%s', true)\n", targetEntity, m.currentCol, m.targetCol)
		}
	case len(nameMatches) > 0:
		limit := nameMatches
		if len(limit) > 3 {
			limit = limit[:3]
		}
		for _, col := range limit {
			fmt.Fprintf(&b, "  joinEntity('%s', '%s', '%s', true)  (same name, check if values match)\n", targetEntity, col, col)
		}
	default:
		b.WriteString("  No strong candidates found. Entities may not be directly related.\n")
	}

	fmt.Fprintf(&b, "\n%s: %d columns, %d rows loaded", currentEntity, len(currentCols), len(rows))
	fmt.Fprintf(&b, "\n%s: %d columns, %d rows sampled", targetEntity, len(targetCols), len(targetResult.Data))
	return b.String(), nil
}

// distinctSet keeps both membership and first-seen order so overlap
// counting and sample extraction are deterministic.
type distinctSet struct {
	set     map[string]bool
	ordered []string
}

// distinctSets builds per-column distinct value sets from up to cap
// rows, keeping only columns whose cardinality looks like a join key
// (2..5000 distinct values).
func distinctSets(rows []Row, cols []string, limit int) map[string]distinctSet {
	if limit > len(rows) {
		limit = len(rows)
	}
	out := map[string]distinctSet{}
	for _, col := range cols {
		ds := distinctSet{set: map[string]bool{}}
		for i := 0; i < limit; i++ {
			v := rows[i][col]
			if v == nil {
				continue
			}
			str := stringify(v)
			if str == "" || str == "null" {
				continue
			}
			if !ds.set[str] {
				ds.set[str] = true
				ds.ordered = append(ds.ordered, str)
			}
		}
		if len(ds.set) >= 2 && len(ds.set) <= compareDistinct {
			out[col] = ds
		}
	}
	return out
}

// SearchEntities searches the entity catalog by name or label.
// Versioned data entities sort first, then shorter names; the top 30
// are listed with explicit instructions to use the names verbatim.
func (s *Session) SearchEntities(ctx context.Context, query string) string {
	if query == "" {
		return "Entity list not loaded yet. Try loading an entity first."
	}
	entities, err := s.AllEntities(ctx)
	if err != nil || len(entities) == 0 {
		return "Entity list not loaded yet. Try loading an entity first."
	}

	q := strings.ToLower(query)
	var matched []*odata.Schema
	for _, e := range entities {
		if strings.Contains(strings.ToLower(e.Name), q) ||
			strings.Contains(strings.ToLower(e.Label), q) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return fmt.Sprintf("No entities matching %q out of %d total entities. Try a SHORTER or DIFFERENT keyword (e.g. instead of \"formulalines\" try \"formula\", instead of \"productionbom\" try \"bom\"). Do NOT call loadEntity(), the entity does not exist.",
			query, len(entities))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		iv, jv := versionedEntity.MatchString(matched[i].Name), versionedEntity.MatchString(matched[j].Name)
		if iv != jv {
			return iv
		}
		return len(matched[i].Name) < len(matched[j].Name)
	})

	total := len(matched)
	if len(matched) > searchShown {
		matched = matched[:searchShown]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d entities matching %q (showing top %d, V2/V3 data entities listed first):", total, query, len(matched))
	for _, e := range matched {
		b.WriteString("\n  " + e.Name)
		if e.Label != "" && e.Label != e.Name {
			b.WriteString(" (" + e.Label + ")")
		}
		if e.Category != "" {
			b.WriteString(" [" + e.Category + "]")
		}
	}
	b.WriteString("\n\nIMPORTANT: Use EXACTLY one of these names in loadEntity(). Do NOT modify or guess names.")
	return b.String()
}

// GetRelatedEntities lists the loaded entity's navigation properties
// and how to expand them.
func (s *Session) GetRelatedEntities() string {
	s.mu.Lock()
	schema := s.schema
	entity := s.currentEntity
	expand := append([]string(nil), s.expand...)
	s.mu.Unlock()

	if schema == nil || len(schema.NavigationProperties) == 0 {
		return "No navigation properties found for this entity."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Related entities for %s (%d relationships):", entity, len(schema.NavigationProperties))
	for _, np := range schema.NavigationProperties {
		kind := "single"
		if np.IsCollection {
			kind = "collection"
		}
		fmt.Fprintf(&b, "\n- %s -> %s (%s)", np.Name, np.RelatedEntity, kind)
	}
	if len(expand) > 0 {
		fmt.Fprintf(&b, "\nCurrently expanded: %s", strings.Join(expand, ", "))
	}
	b.WriteString("\n\nUse expandEntity('navPropertyName') to expand, or clearExpand() to clear.")
	return b.String()
}
