package grid

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

const exportBatchSize = 5000

// ExportResult is a serialized export ready to be written to disk.
type ExportResult struct {
	Filename string
	Content  []byte
	Rows     int
}

// ExportData serializes the current page. Formats: csv, tsv (Excel
// flavored), json, sql.
func (s *Session) ExportData(format string) (*ExportResult, error) {
	s.mu.Lock()
	entity := s.currentEntity
	rows := append([]Row(nil), s.rows...)
	s.mu.Unlock()

	if len(rows) == 0 {
		return nil, fmt.Errorf("no data to export")
	}
	return serialize(format, entity, entity, rows)
}

// ExportAll fetches every record matching the current filters in
// batches of 5000 and serializes them. With selectedColumnsOnly the
// $select is restricted to the visible base columns; the active join
// is merged into the full set before serializing. Cancel via ctx.
func (s *Session) ExportAll(ctx context.Context, format string, selectedColumnsOnly bool) (*ExportResult, error) {
	s.mu.Lock()
	entity := s.currentEntity
	var selectCols []string
	if selectedColumnsOnly {
		for _, col := range s.visibleColumns {
			if !strings.Contains(col, ".") {
				selectCols = append(selectCols, col)
			}
		}
	}
	s.mu.Unlock()
	if entity == "" {
		return nil, fmt.Errorf("no entity loaded")
	}

	filterString := s.BuildFilterString()

	var all []Row
	skip := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.querier.QueryEntity(ctx, entity, odata.QueryOptions{
			Select: selectCols,
			Filter: filterString,
			Top:    exportBatchSize,
			Skip:   skip,
		})
		if err != nil {
			return nil, fmt.Errorf("export fetch failed at offset %d: %w", skip, err)
		}
		if len(result.Data) == 0 {
			break
		}
		all = append(all, result.Data...)
		skip += len(result.Data)
		s.logger.Debug("export batch fetched", "rows", len(result.Data), "total", len(all))
		if len(result.Data) < exportBatchSize {
			break
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no data to export")
	}

	all = s.ApplyJoinToAll(ctx, all)
	return serialize(format, entity, entity+"_ALL", all)
}

func serialize(format, entity, basename string, rows []Row) (*ExportResult, error) {
	var (
		content []byte
		ext     string
		err     error
	)
	switch strings.ToLower(format) {
	case "csv":
		content, err = toCSV(rows)
		ext = "csv"
	case "tsv", "excel":
		content, err = toTSV(rows)
		ext = "tsv"
	case "json":
		content, err = toJSON(rows)
		ext = "json"
	case "sql":
		content, err = toSQL(entity, rows)
		ext = "sql"
	default:
		return nil, fmt.Errorf("unknown export format %q (use csv, tsv, json, or sql)", format)
	}
	if err != nil {
		return nil, err
	}
	return &ExportResult{Filename: basename + "." + ext, Content: content, Rows: len(rows)}, nil
}

// exportColumns derives the column list from the first row, dropping
// annotation and internal keys. includeInternal keeps "__" keys out
// only when false.
func exportColumns(rows []Row, includeInternal bool) []string {
	var cols []string
	for _, k := range sortedKeys(rows[0]) {
		if strings.HasPrefix(k, "@") {
			continue
		}
		if !includeInternal && strings.HasPrefix(k, "__") {
			continue
		}
		if strings.Contains(k, ".__data") {
			continue
		}
		cols = append(cols, k)
	}
	return cols
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	return stringify(v)
}

func toCSV(rows []Row) ([]byte, error) {
	cols := exportColumns(rows, false)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			record[i] = cellString(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func toTSV(rows []Row) ([]byte, error) {
	cols := exportColumns(rows, true)
	var buf bytes.Buffer
	buf.WriteString(strings.Join(cols, "\t") + "\n")
	replacer := strings.NewReplacer("\t", " ", "\n", " ")
	for _, row := range rows {
		for i, col := range cols {
			if i > 0 {
				buf.WriteByte('\t')
			}
			buf.WriteString(replacer.Replace(cellString(row[col])))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func toJSON(rows []Row) ([]byte, error) {
	clean := make([]Row, 0, len(rows))
	for _, row := range rows {
		out := Row{}
		for k, v := range row {
			if strings.HasPrefix(k, "@") || strings.HasPrefix(k, "__") || strings.Contains(k, ".__data") {
				continue
			}
			out[k] = v
		}
		clean = append(clean, out)
	}
	return json.MarshalIndent(clean, "", "  ")
}

func toSQL(entity string, rows []Row) ([]byte, error) {
	cols := exportColumns(rows, true)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "-- SQL INSERT statements for %s\n", entity)
	fmt.Fprintf(&buf, "-- Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	colList := strings.Join(cols, ", ")
	values := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			switch v := row[col].(type) {
			case nil:
				values[i] = "NULL"
			case float64:
				values[i] = strconv.FormatFloat(v, 'f', -1, 64)
			case bool:
				if v {
					values[i] = "1"
				} else {
					values[i] = "0"
				}
			default:
				values[i] = "'" + strings.ReplaceAll(stringify(v), "'", "''") + "'"
			}
		}
		fmt.Fprintf(&buf, "INSERT INTO %s (%s) VALUES (%s);\n", entity, colList, strings.Join(values, ", "))
	}
	return buf.Bytes(), nil
}
