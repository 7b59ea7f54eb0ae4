package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/odgrid/internal/grid"
	"github.com/leapstack-labs/odgrid/internal/odata"
	"github.com/leapstack-labs/odgrid/internal/testutil"
)

// fakeQuerier serves two canned entities and counts page loads.
type fakeQuerier struct {
	schemas map[string]*odata.Schema
	loads   map[string]int
	filters []string
	fail    error
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		loads: map[string]int{},
		schemas: map[string]*odata.Schema{
			"SalesOrdersV2": {
				Name: "SalesOrdersV2",
				Properties: []odata.Property{
					{Name: "SalesOrderNumber", Type: "Edm.String"},
					{Name: "CustomerAccount", Type: "Edm.String"},
					{Name: "Status", Type: "Edm.String"},
					{Name: "Amount", Type: "Edm.Decimal"},
				},
			},
			"CustomersV3": {
				Name: "CustomersV3",
				Properties: []odata.Property{
					{Name: "CustomerAccount", Type: "Edm.String"},
					{Name: "Name", Type: "Edm.String"},
				},
			},
		},
	}
}

func (q *fakeQuerier) QueryEntity(_ context.Context, entity string, opts odata.QueryOptions) (*odata.QueryResult, error) {
	q.loads[entity]++
	q.filters = append(q.filters, opts.Filter)
	if q.fail != nil {
		return nil, q.fail
	}
	switch entity {
	case "SalesOrdersV2":
		return &odata.QueryResult{
			Data: []odata.Row{
				{"SalesOrderNumber": "SO1", "CustomerAccount": "C1", "Status": "Open", "Amount": 10.0},
				{"SalesOrderNumber": "SO2", "CustomerAccount": "C2", "Status": "Closed", "Amount": 20.0},
			},
			Count: 2, HasCount: true,
		}, nil
	case "CustomersV3":
		return &odata.QueryResult{
			Data:  []odata.Row{{"CustomerAccount": "C1", "Name": "Acme"}},
			Count: 1, HasCount: true,
		}, nil
	}
	return &odata.QueryResult{}, nil
}

func (q *fakeQuerier) GetEntitySchema(_ context.Context, entity string) (*odata.Schema, error) {
	if s, ok := q.schemas[entity]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown entity %q", entity)
}

func (q *fakeQuerier) ListEntities(_ context.Context) ([]*odata.Schema, error) {
	var all []*odata.Schema
	for _, s := range q.schemas {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

func newTestInterpreter(t *testing.T) (*Interpreter, *grid.Session, *fakeQuerier) {
	t.Helper()
	q := newFakeQuerier()
	logger := testutil.NewTestLogger(t)
	session := grid.NewSession(q, nil, logger)
	it := NewInterpreter(session, t.TempDir(), logger)
	it.sleep = func(time.Duration) {}
	return it, session, q
}

func loadSales(t *testing.T, it *Interpreter, session *grid.Session) {
	t.Helper()
	require.NoError(t, session.LoadEntity(context.Background(), "SalesOrdersV2"))
}

func TestExecuteBlockSimpleCall(t *testing.T) {
	it, session, _ := newTestInterpreter(t)

	res := it.ExecuteBlock(context.Background(), "loadEntity('SalesOrdersV2')")
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Executed)
	assert.True(t, res.Mutated)
	assert.Equal(t, "SalesOrdersV2", session.CurrentEntity())
	assert.Len(t, session.Rows(), 2)
}

func TestExecuteBlockDisallowedFunction(t *testing.T) {
	it, _, _ := newTestInterpreter(t)

	res := it.ExecuteBlock(context.Background(), "fetch('https://evil.example.com')")
	assert.Equal(t, 0, res.Executed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "fetch() is not an allowed function")
}

func TestExecuteBlockSkipsCommentsAndBlanks(t *testing.T) {
	it, session, _ := newTestInterpreter(t)

	res := it.ExecuteBlock(context.Background(), "// switching entity\n\nloadEntity('SalesOrdersV2')\n")
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, "SalesOrdersV2", session.CurrentEntity())
}

func TestExecuteBlockSkipsUnparseable(t *testing.T) {
	it, _, _ := newTestInterpreter(t)

	res := it.ExecuteBlock(context.Background(), "let x = 5")
	assert.Equal(t, 0, res.Executed)
	assert.Empty(t, res.Errors, "unparseable statements are skipped, not reported")
}

func TestExecuteBlockBatchesConsecutiveFilters(t *testing.T) {
	it, session, q := newTestInterpreter(t)
	loadSales(t, it, session)
	q.loads["SalesOrdersV2"] = 0

	res := it.ExecuteBlock(context.Background(),
		"addFilter('Status', 'eq', 'Open'); addFilter('Status', 'eq', 'Closed', 'or'); sortByColumn('Amount')")
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, res.Executed)

	// Both filters share one reload at the name change, the sort gets
	// the final flush.
	assert.Equal(t, 2, q.loads["SalesOrdersV2"])
	assert.Equal(t, "(Status eq 'Open' or Status eq 'Closed')", session.BuildFilterString())
	assert.Equal(t, "Amount", session.SortConfig().Field)
}

func TestExecuteBlockDiscoveryShortCircuit(t *testing.T) {
	it, session, _ := newTestInterpreter(t)

	res := it.ExecuteBlock(context.Background(), "searchEntities('sales')\nloadEntity('SalesOrdersV2')")
	assert.Equal(t, 1, res.Executed, "nothing runs after a discovery call")
	require.Len(t, res.Analysis, 1)
	assert.Contains(t, res.Analysis[0], "SalesOrdersV2")
	assert.Empty(t, session.CurrentEntity(), "loadEntity after searchEntities must not run")
}

func TestExecuteBlockLoadFailureAborts(t *testing.T) {
	it, session, _ := newTestInterpreter(t)
	loadSales(t, it, session)

	res := it.ExecuteBlock(context.Background(), "loadEntity('Bogus')\naddFilter('Status', 'eq', 'Open')")
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "loadEntity")
	assert.Empty(t, session.Filters(), "statements after a failed loadEntity must not run")
}

func TestExecuteBlockArgHardening(t *testing.T) {
	it, session, _ := newTestInterpreter(t)
	loadSales(t, it, session)

	tests := []struct {
		name string
		code string
		want string
	}{
		{"too many args", "addFilter(1,2,3,4,5,6,7,8,9,10,11)", "too many arguments"},
		{"long string", fmt.Sprintf("setQuickFilter('%s')", strings.Repeat("x", 2001)), "argument string too long"},
		{"prototype pollution", `setVisibleColumns({"__proto__": 1})`, "suspicious argument blocked"},
		{"pollution nested in array", `setVisibleColumns([{"constructor": 1}])`, "suspicious argument blocked"},
		{"pollution nested in object", `setVisibleColumns({"a": {"prototype": 1}})`, "suspicious argument blocked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := it.ExecuteBlock(context.Background(), tt.code)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[0], tt.want)
		})
	}
}

func TestExecuteBlockReportsReloadFailureAtBlockEnd(t *testing.T) {
	it, session, q := newTestInterpreter(t)
	loadSales(t, it, session)

	// A block ending in a mutation flushes its reload on exit; that
	// failure must surface in the result, not vanish.
	q.fail = &odata.HTTPError{Status: 400, Body: "bad filter"}
	res := it.ExecuteBlock(context.Background(), "addFilter('Status', 'eq', 'Open')")
	assert.Equal(t, 1, res.Executed)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "Query failed (HTTP 400)")
	assert.Empty(t, session.LastLoadError(), "the side channel is consumed into the result")
}

func TestExecuteBlockNumericAndBoolArgs(t *testing.T) {
	it, session, _ := newTestInterpreter(t)
	loadSales(t, it, session)

	res := it.ExecuteBlock(context.Background(), "setPageSize(50)")
	assert.Empty(t, res.Errors)
	_, size := session.Page()
	assert.Equal(t, 50, size)

	res = it.ExecuteBlock(context.Background(), "joinEntity('CustomersV3', 'CustomerAccount', 'CustomerAccount', true)")
	assert.Empty(t, res.Errors)
	join := session.ActiveJoin()
	require.NotNil(t, join)
	assert.True(t, join.InnerOnly)
}

func TestExecuteBlockArrayArg(t *testing.T) {
	it, session, _ := newTestInterpreter(t)
	loadSales(t, it, session)

	res := it.ExecuteBlock(context.Background(), "setVisibleColumns(['Status', 'Amount'])")
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"Status", "Amount"}, session.VisibleColumns())
}

func TestExecuteBlockAnalysis(t *testing.T) {
	it, session, _ := newTestInterpreter(t)
	loadSales(t, it, session)

	res := it.ExecuteBlock(context.Background(), "summarizeData('Status')")
	assert.Empty(t, res.Errors)
	assert.False(t, res.Mutated)
	require.Len(t, res.Analysis, 1)
	assert.Contains(t, res.Analysis[0], `Summary of "Status"`)
}

func TestExecuteBlockExportWritesFile(t *testing.T) {
	q := newFakeQuerier()
	session := grid.NewSession(q, nil, nil)
	dir := t.TempDir()
	it := NewInterpreter(session, dir, nil)
	it.sleep = func(time.Duration) {}
	require.NoError(t, session.LoadEntity(context.Background(), "SalesOrdersV2"))

	res := it.ExecuteBlock(context.Background(), "exportData('csv')")
	assert.Empty(t, res.Errors)
	require.Len(t, res.Analysis, 1)
	assert.Contains(t, res.Analysis[0], "Exported 2 rows")

	content, err := os.ReadFile(filepath.Join(dir, "SalesOrdersV2.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "SO1")
}

func TestExecuteBlockMissingArgument(t *testing.T) {
	it, session, _ := newTestInterpreter(t)
	loadSales(t, it, session)

	res := it.ExecuteBlock(context.Background(), "summarizeData()")
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "missing argument")
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []any
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single quotes", "'Status', 'eq', 'Open'", []any{"Status", "eq", "Open"}, false},
		{"numbers and bools", "5, true", []any{float64(5), true}, false},
		{"array", "['a', 'b']", []any{[]any{"a", "b"}}, false},
		{"garbage", "function(){}", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("a(1); b(2)\n// comment\nc(3)")
	assert.Equal(t, []string{"a(1)", "b(2)", "c(3)"}, got)
}
