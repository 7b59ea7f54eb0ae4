package grid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/odgrid/internal/odata"
)

func sessionWithRows(rows []Row) *Session {
	s := NewSession(&fakeQuerier{}, nil, nil)
	s.rows = rows
	s.currentEntity = "SalesOrdersV2"
	return s
}

func TestSummarizeData(t *testing.T) {
	s := sessionWithRows([]Row{
		{"Status": "Open"},
		{"Status": "Open"},
		{"Status": "Closed"},
	})

	got := s.SummarizeData("Status")
	assert.Contains(t, got, `Summary of "Status" (3 rows, 2 unique values):`)
	assert.Contains(t, got, "Open: 2 (66.7%)")
	assert.Contains(t, got, "Closed: 1 (33.3%)")
}

func TestSummarizeDataBlanksAndTies(t *testing.T) {
	s := sessionWithRows([]Row{
		{"Status": "A"},
		{"Status": nil},
		{"Status": "B"},
		{"Status": nil},
	})

	got := s.SummarizeData("Status")
	assert.Contains(t, got, "(blank): 2 (50.0%)")
	// Equal counts keep first-encountered order.
	assert.Regexp(t, `\(blank\): 2 .*\n  A: 1 .*\n  B: 1`, got)
}

func TestSummarizeDataNoData(t *testing.T) {
	s := sessionWithRows(nil)
	assert.Equal(t, "No data loaded", s.SummarizeData("Status"))
}

func TestComputeStats(t *testing.T) {
	s := sessionWithRows([]Row{
		{"Amount": 10.0},
		{"Amount": 20.0},
		{"Amount": 30.0},
		{"Amount": "not a number"},
	})

	got := s.ComputeStats("Amount")
	assert.Contains(t, got, `Stats for "Amount" (3 values):`)
	assert.Contains(t, got, "Min: 10")
	assert.Contains(t, got, "Max: 30")
	assert.Contains(t, got, "Sum: 60")
	assert.Contains(t, got, "Avg: 20.00")
	assert.Contains(t, got, "Median: 20")
}

func TestComputeStatsEvenMedian(t *testing.T) {
	s := sessionWithRows([]Row{
		{"Amount": 1.0}, {"Amount": 2.0}, {"Amount": 3.0}, {"Amount": 4.0},
	})
	assert.Contains(t, s.ComputeStats("Amount"), "Median: 2.5")
}

func TestComputeStatsNoNumbers(t *testing.T) {
	s := sessionWithRows([]Row{{"Status": "Open"}})
	assert.Equal(t, `"Status" has no numeric values`, s.ComputeStats("Status"))
}

func TestGetDistinctValues(t *testing.T) {
	s := sessionWithRows([]Row{
		{"City": "Oslo"},
		{"City": "Bergen"},
		{"City": "Oslo"},
		{"City": nil},
	})

	got := s.GetDistinctValues("City")
	assert.Contains(t, got, `Distinct "City" (3 unique):`)
	assert.Contains(t, got, "(blank), Bergen, Oslo", "values are sorted")
	assert.NotContains(t, got, "more")
}

func TestGetDistinctValuesOverflow(t *testing.T) {
	rows := make([]Row, 60)
	for i := range rows {
		rows[i] = Row{"N": float64(i + 10)}
	}
	s := sessionWithRows(rows)

	got := s.GetDistinctValues("N")
	assert.Contains(t, got, "(60 unique)")
	assert.Contains(t, got, "...and 10 more")
}

func TestCrossTab(t *testing.T) {
	s := sessionWithRows([]Row{
		{"Status": "Open", "City": "Oslo"},
		{"Status": "Open", "City": "Oslo"},
		{"Status": "Closed", "City": "Bergen"},
	})

	got := s.CrossTab("Status", "City")
	assert.Contains(t, got, `Cross-tab "Status" × "City"`)
	assert.Contains(t, got, "Open × Oslo: 2")
	assert.Contains(t, got, "Closed × Bergen: 1")
}

func TestSearchEntities(t *testing.T) {
	q := &fakeQuerier{schemas: testSchemas()}
	s := NewSession(q, nil, nil)
	ctx := context.Background()

	got := s.SearchEntities(ctx, "cust")
	assert.Contains(t, got, "Found 2 entities")
	// Versioned data entities come first.
	assert.Regexp(t, `CustomersV3.*\n.*CustTable`, got)
	assert.Contains(t, got, "Use EXACTLY one of these names")
}

func TestSearchEntitiesNoMatch(t *testing.T) {
	q := &fakeQuerier{schemas: testSchemas()}
	s := NewSession(q, nil, nil)

	got := s.SearchEntities(context.Background(), "warehouse")
	assert.Contains(t, got, `No entities matching "warehouse"`)
	assert.Contains(t, got, "Do NOT call loadEntity()")
}

func TestGetRelatedEntities(t *testing.T) {
	schemas := testSchemas()
	schemas["SalesOrdersV2"].NavigationProperties = []odata.NavigationProperty{
		{Name: "Customer", RelatedEntity: "CustomersV3", IsCollection: false},
		{Name: "Lines", RelatedEntity: "SalesOrderLines", IsCollection: true},
	}
	q := &fakeQuerier{schemas: schemas}
	q.handle = func(entity string, opts odata.QueryOptions) (*odata.QueryResult, error) {
		return &odata.QueryResult{Data: salesRows(), Count: 3, HasCount: true}, nil
	}
	s := NewSession(q, nil, nil)
	require.NoError(t, s.LoadEntity(context.Background(), "SalesOrdersV2"))

	got := s.GetRelatedEntities()
	assert.Contains(t, got, "Related entities for SalesOrdersV2 (2 relationships):")
	assert.Contains(t, got, "- Customer -> CustomersV3 (single)")
	assert.Contains(t, got, "- Lines -> SalesOrderLines (collection)")
	assert.Contains(t, got, "expandEntity(")
}

func TestGetRelatedEntitiesNone(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.LoadEntity(context.Background(), "SalesOrdersV2"))
	assert.Equal(t, "No navigation properties found for this entity.", s.GetRelatedEntities())
}

func TestCompareEntities(t *testing.T) {
	q := &fakeQuerier{schemas: testSchemas()}
	q.handle = func(entity string, opts odata.QueryOptions) (*odata.QueryResult, error) {
		switch entity {
		case "SalesOrdersV2":
			return &odata.QueryResult{Data: salesRows(), Count: 3, HasCount: true}, nil
		case "CustomersV3":
			return &odata.QueryResult{Data: []Row{
				{"CustomerAccount": "C1", "Name": "Acme"},
				{"CustomerAccount": "C2", "Name": "Beta"},
				{"CustomerAccount": "C9", "Name": "Gamma"},
			}}, nil
		}
		return &odata.QueryResult{}, nil
	}
	s := NewSession(q, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.LoadEntity(ctx, "SalesOrdersV2"))

	got, err := s.CompareEntities(ctx, "CustomersV3")
	require.NoError(t, err)
	assert.Contains(t, got, "EXACT NAME MATCHES (1):")
	assert.Contains(t, got, "- CustomerAccount")
	assert.Contains(t, got, "SalesOrdersV2.CustomerAccount <-> CustomersV3.CustomerAccount")
	assert.Contains(t, got, "[SAME NAME]")
	assert.Contains(t, got, "joinEntity('CustomersV3', 'CustomerAccount', 'CustomerAccount', true)")
}

func TestCompareEntitiesEmptyTarget(t *testing.T) {
	q := &fakeQuerier{schemas: testSchemas()}
	q.handle = func(entity string, opts odata.QueryOptions) (*odata.QueryResult, error) {
		if entity == "SalesOrdersV2" {
			return &odata.QueryResult{Data: salesRows(), Count: 3, HasCount: true}, nil
		}
		return &odata.QueryResult{}, nil
	}
	s := NewSession(q, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.LoadEntity(ctx, "SalesOrdersV2"))

	got, err := s.CompareEntities(ctx, "CustomersV3")
	require.NoError(t, err)
	assert.Equal(t, "CustomersV3 has no data to compare with.", got)
}

func TestCompareEntitiesNothingLoaded(t *testing.T) {
	s := NewSession(&fakeQuerier{schemas: testSchemas()}, nil, nil)
	got, err := s.CompareEntities(context.Background(), "CustomersV3")
	require.NoError(t, err)
	assert.Equal(t, "Load an entity with data first", got)
}
