package agent

import (
	"context"
	"fmt"
)

// command is one allowlisted grid function. Mutating commands change
// what is loaded and run inside the batch scope; analysis commands
// produce text the model must see; discovery commands additionally end
// the block so their results are fed back before anything else runs.
type command struct {
	mutating  bool
	analysis  bool
	discovery bool
	run       func(ctx context.Context, it *Interpreter, args []any) (string, error)
}

var commands = map[string]command{
	"loadEntity": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		name, err := needString("loadEntity", args, 0)
		if err != nil {
			return "", err
		}
		return "", it.session.LoadEntity(ctx, name)
	}},
	"addFilter": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		field, err := needString("addFilter", args, 0)
		if err != nil {
			return "", err
		}
		op, err := needString("addFilter", args, 1)
		if err != nil {
			return "", err
		}
		return "", it.session.AddFilter(ctx, field, op, optString(args, 2), optString(args, 3))
	}},
	"clearAllFilters": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		return "", it.session.ClearAllFilters(ctx)
	}},
	"setQuickFilter": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		return "", it.session.SetQuickFilter(ctx, optString(args, 0))
	}},
	"sortByColumn": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		field, err := needString("sortByColumn", args, 0)
		if err != nil {
			return "", err
		}
		return "", it.session.SortByColumn(ctx, field, optString(args, 1))
	}},
	"goToPage": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		page, err := needNumber("goToPage", args, 0)
		if err != nil {
			return "", err
		}
		return "", it.session.GoToPage(ctx, int(page))
	}},
	"setPageSize": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		size, err := needNumber("setPageSize", args, 0)
		if err != nil {
			return "", err
		}
		return "", it.session.SetPageSize(ctx, int(size))
	}},
	"setVisibleColumns": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		cols := stringList(args)
		if len(cols) == 0 {
			return "", fmt.Errorf("setVisibleColumns() needs at least one column name")
		}
		return "", it.session.SetVisibleColumns(ctx, cols)
	}},
	"loadData": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		return "", it.session.LoadData(ctx)
	}},
	"joinEntity": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		target, err := needString("joinEntity", args, 0)
		if err != nil {
			return "", err
		}
		currentField, err := needString("joinEntity", args, 1)
		if err != nil {
			return "", err
		}
		targetField, err := needString("joinEntity", args, 2)
		if err != nil {
			return "", err
		}
		return "", it.session.JoinEntity(ctx, target, currentField, targetField, optBool(args, 3))
	}},
	"expandEntity": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		names := stringList(args)
		if len(names) == 0 {
			return "", fmt.Errorf("expandEntity() needs a navigation property name")
		}
		return "", it.session.ExpandEntity(ctx, names...)
	}},
	"clearExpand": {mutating: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		return "", it.session.ClearExpand(ctx)
	}},

	"highlightCells": {run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		field, err := needString("highlightCells", args, 0)
		if err != nil {
			return "", err
		}
		it.session.HighlightCells(field, optString(args, 1), optString(args, 2), optString(args, 3))
		return "", nil
	}},
	"highlightRows": {run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		field, err := needString("highlightRows", args, 0)
		if err != nil {
			return "", err
		}
		it.session.HighlightRows(field, optString(args, 1), optString(args, 2), optString(args, 3))
		return "", nil
	}},
	"clearHighlights": {run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		it.session.ClearHighlights()
		return "", nil
	}},

	"exportData": {run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		format, err := needString("exportData", args, 0)
		if err != nil {
			return "", err
		}
		res, err := it.session.ExportData(format)
		if err != nil {
			return "", err
		}
		path, err := it.saveExport(res)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Exported %d rows to %s", res.Rows, path), nil
	}},

	"summarizeData": {analysis: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		field, err := needString("summarizeData", args, 0)
		if err != nil {
			return "", err
		}
		return it.session.SummarizeData(field), nil
	}},
	"computeStats": {analysis: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		field, err := needString("computeStats", args, 0)
		if err != nil {
			return "", err
		}
		return it.session.ComputeStats(field), nil
	}},
	"getDistinctValues": {analysis: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		field, err := needString("getDistinctValues", args, 0)
		if err != nil {
			return "", err
		}
		return it.session.GetDistinctValues(field), nil
	}},
	"crossTab": {analysis: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		f1, err := needString("crossTab", args, 0)
		if err != nil {
			return "", err
		}
		f2, err := needString("crossTab", args, 1)
		if err != nil {
			return "", err
		}
		return it.session.CrossTab(f1, f2), nil
	}},

	"searchEntities": {analysis: true, discovery: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		keyword, err := needString("searchEntities", args, 0)
		if err != nil {
			return "", err
		}
		return it.session.SearchEntities(ctx, keyword), nil
	}},
	"compareEntities": {analysis: true, discovery: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		target, err := needString("compareEntities", args, 0)
		if err != nil {
			return "", err
		}
		return it.session.CompareEntities(ctx, target)
	}},
	"getRelatedEntities": {analysis: true, discovery: true, run: func(ctx context.Context, it *Interpreter, args []any) (string, error) {
		return it.session.GetRelatedEntities(), nil
	}},
}

func needString(fn string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s(): missing argument %d", fn, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s(): argument %d must be a string", fn, i+1)
	}
	return s, nil
}

func optString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	switch v := args[i].(type) {
	case string:
		return v
	case float64:
		return trimFloat(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return ""
}

func needNumber(fn string, args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%s(): missing argument %d", fn, i+1)
	}
	n, ok := args[i].(float64)
	if !ok {
		return 0, fmt.Errorf("%s(): argument %d must be a number", fn, i+1)
	}
	return n, nil
}

func optBool(args []any, i int) bool {
	if i >= len(args) {
		return false
	}
	b, _ := args[i].(bool)
	return b
}

// stringList flattens string and string-array arguments, so both
// f('a', 'b') and f(['a', 'b']) work.
func stringList(args []any) []string {
	var out []string
	for _, a := range args {
		switch v := a.(type) {
		case string:
			out = append(out, v)
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
