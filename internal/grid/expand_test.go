package grid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessExpandedDataToOne(t *testing.T) {
	s := sessionWithRows([]Row{
		{
			"SalesOrderNumber": "SO1",
			"Customer": map[string]any{
				"Name":        "Acme",
				"City":        "Oslo",
				"@odata.etag": "xyz",
			},
		},
	})
	s.visibleColumns = []string{"SalesOrderNumber"}
	s.expand = []string{"Customer"}

	s.processExpandedData()

	rows := s.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0]["Customer.Name"])
	assert.Equal(t, "Oslo", rows[0]["Customer.City"])
	assert.NotContains(t, rows[0], "Customer", "nested object is removed")
	assert.NotContains(t, rows[0], "Customer.@odata.etag")

	cols := s.VisibleColumns()
	assert.Equal(t, []string{"SalesOrderNumber", "Customer.City", "Customer.Name"}, cols)
}

func TestProcessExpandedDataToMany(t *testing.T) {
	s := sessionWithRows([]Row{
		{
			"SalesOrderNumber": "SO1",
			"Lines": []any{
				map[string]any{"ItemNumber": "A1", "Qty": 2.0},
				map[string]any{"ItemNumber": "A2", "Qty": 5.0},
			},
		},
		{
			"SalesOrderNumber": "SO2",
			"Lines":            []any{},
		},
	})
	s.visibleColumns = []string{"SalesOrderNumber"}
	s.expand = []string{"Lines"}

	s.processExpandedData()

	rows := s.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0]["Lines.__count"])
	assert.Equal(t, "A1", rows[0]["Lines.ItemNumber"], "first related row is previewed")
	assert.Equal(t, 2.0, rows[0]["Lines.Qty"])
	assert.Equal(t, 0, rows[1]["Lines.__count"])
	assert.NotContains(t, rows[0], "Lines")

	assert.Contains(t, s.VisibleColumns(), "Lines.__count")
	assert.NotContains(t, s.VisibleColumns(), "Lines.__data")
}

func TestClearExpandRemovesContributedColumns(t *testing.T) {
	s, _ := newTestSession(t)
	s.currentEntity = "SalesOrdersV2"
	s.schema = testSchemas()["SalesOrdersV2"]
	s.expand = []string{"Customer"}
	s.visibleColumns = []string{"SalesOrderNumber", "Customer.Name", "Customer.City", "Status"}

	require.NoError(t, s.ClearExpand(context.Background()))
	assert.Empty(t, s.Expand())
	assert.Equal(t, []string{"SalesOrderNumber", "Status"}, s.VisibleColumns())
}
