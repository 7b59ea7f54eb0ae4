package odata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSchema() *Schema {
	return &Schema{
		Name: "SalesOrderHeadersV2",
		Properties: []Property{
			{Name: "SalesOrderNumber", Type: "Edm.String", Nullable: false},
			{Name: "OrderTotalAmount", Type: "Edm.Decimal", Nullable: true},
			{Name: "LineCount", Type: "Edm.Int32", Nullable: true},
			{Name: "IsConfirmed", Type: "Edm.Boolean", Nullable: true},
			{Name: "OrderDate", Type: "Edm.Date", Nullable: true},
			{Name: "RecordGuid", Type: "Edm.Guid", Nullable: true},
			{Name: "SalesOrderStatus", Type: "Microsoft.Dynamics.DataEntities.SalesStatus", Nullable: true},
		},
		Keys: []string{"SalesOrderNumber"},
	}
}

func TestCondition(t *testing.T) {
	schema := testSchema()

	tests := []struct {
		name     string
		field    string
		operator string
		value    string
		want     string
	}{
		{"string eq", "SalesOrderNumber", "eq", "SO-001", "SalesOrderNumber eq 'SO-001'"},
		{"string quote escaping", "SalesOrderNumber", "eq", "O'Brien", "SalesOrderNumber eq 'O''Brien'"},
		{"numeric unquoted", "OrderTotalAmount", "gt", "100.5", "OrderTotalAmount gt 100.5"},
		{"int unquoted", "LineCount", "ge", "3", "LineCount ge 3"},
		{"boolean normalized", "IsConfirmed", "eq", "True", "IsConfirmed eq true"},
		{"boolean numeric form", "IsConfirmed", "eq", "1", "IsConfirmed eq true"},
		{"boolean false", "IsConfirmed", "eq", "no", "IsConfirmed eq false"},
		{"date unquoted", "OrderDate", "eq", "2025-06-01", "OrderDate eq 2025-06-01"},
		{"guid unquoted", "RecordGuid", "eq", "0f8fad5b-d9cb-469f-a165-70867728950e", "RecordGuid eq 0f8fad5b-d9cb-469f-a165-70867728950e"},
		{"enum qualified", "SalesOrderStatus", "eq", "Invoiced", "SalesOrderStatus eq Microsoft.Dynamics.DataEntities.SalesStatus'Invoiced'"},
		{"contains uses wildcards", "SalesOrderNumber", "contains", "001", "SalesOrderNumber eq '*001*'"},
		{"contains on enum falls back to eq", "SalesOrderStatus", "contains", "Invoiced", "SalesOrderStatus eq Microsoft.Dynamics.DataEntities.SalesStatus'Invoiced'"},
		{"startswith wildcard at end", "SalesOrderNumber", "startswith", "SO-", "SalesOrderNumber eq 'SO-*'"},
		{"endswith wildcard at start", "SalesOrderNumber", "endswith", "-001", "SalesOrderNumber eq '*-001'"},
		{"null on string is empty eq", "SalesOrderNumber", "null", "", "SalesOrderNumber eq ''"},
		{"notnull on string", "SalesOrderNumber", "notnull", "", "SalesOrderNumber ne ''"},
		{"null on numeric", "OrderTotalAmount", "null", "", "OrderTotalAmount eq null"},
		{"notnull on numeric wraps not", "OrderTotalAmount", "notnull", "", "not(OrderTotalAmount eq null)"},
		{"unknown field treated as string", "Mystery", "eq", "x", "Mystery eq 'x'"},
		{"blank value allowed for eq", "SalesOrderNumber", "eq", "", "SalesOrderNumber eq ''"},
		{"blank value skipped for gt", "OrderTotalAmount", "gt", "", ""},
		{"no field", "", "eq", "x", ""},
		{"unknown operator", "SalesOrderNumber", "between", "x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Condition(schema, tt.field, tt.operator, tt.value)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionNilSchema(t *testing.T) {
	assert.Equal(t, "AnyField eq 'v'", Condition(nil, "AnyField", "eq", "v"))
	assert.Equal(t, "AnyField eq ''", Condition(nil, "AnyField", "null", ""))
}

func TestTargetCondition(t *testing.T) {
	schema := testSchema()

	assert.Equal(t, "OrderDate eq null", TargetCondition(schema, "OrderDate", "null", ""))
	assert.Equal(t, "OrderDate ne null", TargetCondition(schema, "OrderDate", "notnull", ""))
	assert.Equal(t, "", TargetCondition(schema, "SalesOrderNumber", "eq", ""), "blank values are skipped")
	assert.Equal(t, "SalesOrderNumber eq 'SO-001'", TargetCondition(schema, "SalesOrderNumber", "eq", "SO-001"))
}

func TestEqualityChain(t *testing.T) {
	t.Run("string values quoted", func(t *testing.T) {
		got := EqualityChain("ItemNumber", "Edm.String", []string{"A", "B'C"}, 100)
		assert.Equal(t, "(ItemNumber eq 'A' or ItemNumber eq 'B''C')", got)
	})

	t.Run("numeric values bare", func(t *testing.T) {
		got := EqualityChain("LineNumber", "Edm.Int32", []string{"1", "2"}, 100)
		assert.Equal(t, "(LineNumber eq 1 or LineNumber eq 2)", got)
	})

	t.Run("cap applied", func(t *testing.T) {
		got := EqualityChain("F", "Edm.String", []string{"a", "b", "c"}, 2)
		assert.Equal(t, "(F eq 'a' or F eq 'b')", got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", EqualityChain("F", "Edm.String", nil, 10))
	})
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "'it''s'", FormatValue("Edm.String", "it's"))
	assert.Equal(t, "42", FormatValue("Edm.Int64", "42"))
	assert.Equal(t, "true", FormatValue("Edm.Boolean", "TRUE"))
	assert.Equal(t, "Some.Enum'Val'", FormatValue("Some.Enum", "Val"))
}

func TestTypePredicates(t *testing.T) {
	assert.True(t, IsNumericType("Edm.Decimal"))
	assert.False(t, IsNumericType("Edm.String"))
	assert.True(t, IsDateType("Edm.DateTimeOffset"))
	assert.True(t, IsEnumType("Microsoft.Dynamics.DataEntities.NoYes"))
	assert.False(t, IsEnumType("Edm.String"))
	assert.False(t, IsEnumType(""))
}
