package odata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx" Version="4.0">
  <edmx:DataServices>
    <Schema xmlns="http://docs.oasis-open.org/odata/ns/edm" Namespace="Microsoft.Dynamics.DataEntities">
      <EntityType Name="ReleasedProductV2">
        <Key>
          <PropertyRef Name="dataAreaId"/>
          <PropertyRef Name="ItemNumber"/>
        </Key>
        <Property Name="dataAreaId" Type="Edm.String" Nullable="false"/>
        <Property Name="ItemNumber" Type="Edm.String" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String"/>
        <Property Name="UnitCost" Type="Edm.Decimal"/>
        <NavigationProperty Name="PurchaseOrderLines" Type="Collection(Microsoft.Dynamics.DataEntities.PurchaseOrderLineV2)"/>
      </EntityType>
      <EntityType Name="PurchaseOrderLineV2">
        <Key>
          <PropertyRef Name="PurchaseOrderNumber"/>
        </Key>
        <Property Name="PurchaseOrderNumber" Type="Edm.String" Nullable="false"/>
        <Property Name="ItemNumber" Type="Edm.String"/>
        <NavigationProperty Name="ReleasedProduct" Type="Microsoft.Dynamics.DataEntities.ReleasedProductV2"/>
      </EntityType>
      <EntityContainer Name="DataEntities">
        <EntitySet Name="ReleasedProductsV2" EntityType="Microsoft.Dynamics.DataEntities.ReleasedProductV2"/>
        <EntitySet Name="PurchaseOrderLinesV2" EntityType="Microsoft.Dynamics.DataEntities.PurchaseOrderLineV2"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

func TestParseMetadata(t *testing.T) {
	entities, err := ParseMetadata([]byte(sampleMetadata))
	require.NoError(t, err)
	require.Len(t, entities, 2)

	// Sorted by entity set name.
	assert.Equal(t, "PurchaseOrderLinesV2", entities[0].Name)
	assert.Equal(t, "ReleasedProductsV2", entities[1].Name)

	products := entities[1]
	assert.Equal(t, "ReleasedProductV2", products.TypeName)
	assert.Equal(t, []string{"dataAreaId", "ItemNumber"}, products.Keys)
	require.Len(t, products.Properties, 4)
	assert.Equal(t, "dataAreaId", products.Properties[0].Name)
	assert.False(t, products.Properties[0].Nullable, "Nullable=false is honored")
	assert.True(t, products.Properties[2].Nullable, "missing Nullable attr defaults to true")

	require.Len(t, products.NavigationProperties, 1)
	nav := products.NavigationProperties[0]
	assert.Equal(t, "PurchaseOrderLines", nav.Name)
	assert.True(t, nav.IsCollection)
	assert.Equal(t, "PurchaseOrderLinesV2", nav.RelatedEntity, "collection target resolves to the entity set name")

	lines := entities[0]
	require.Len(t, lines.NavigationProperties, 1)
	assert.False(t, lines.NavigationProperties[0].IsCollection)
	assert.Equal(t, "ReleasedProductsV2", lines.NavigationProperties[0].RelatedEntity)
}

func TestParseMetadataInvalid(t *testing.T) {
	_, err := ParseMetadata([]byte("not xml at all <"))
	assert.Error(t, err)
}

func TestFormatEntityLabel(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ReleasedProductsV2", "Released Products"},
		{"CustomerV3", "Customer"},
		{"SalesOrderHeaderEntity", "Sales Order Header"},
		{"VendorsV2", "Vendors"},
		{"Worker", "Worker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEntityLabel(tt.name))
		})
	}
}

func TestCategorizeEntity(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"SalesOrderHeadersV2", "Sales"},
		{"CustomersV3", "Sales"},
		{"PurchaseOrderLinesV2", "Sales"}, // "order" wins before "purchase"
		{"VendorsV2", "Purchasing"},
		{"ReleasedProductsV2", "Inventory"},
		{"WarehousesOnHandV2", "Inventory"},
		{"LedgerJournalHeaders", "Finance"},
		{"Workers", "HR"},
		{"ProjectCategories", "Project"},
		{"BOMVersions", "Manufacturing"},
		{"SystemParameters", "Other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeEntity(tt.name))
		})
	}
}

func TestSchemaFieldType(t *testing.T) {
	s := &Schema{Properties: []Property{{Name: "A", Type: "Edm.Int32"}}}
	assert.Equal(t, "Edm.Int32", s.FieldType("A"))
	assert.Equal(t, "", s.FieldType("B"))

	var nilSchema *Schema
	assert.Equal(t, "", nilSchema.FieldType("A"))
}
