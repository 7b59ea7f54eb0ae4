// Package odata provides the transport client and schema layer for an
// OData v4 data-entity service (Dynamics 365 F&O flavored). It exposes
// entity queries, $metadata parsing, probe-reconciled schemas, and the
// D365-specific filter value formatting the rest of the tool builds on.
package odata

import "time"

// Row is one record returned by an entity query. Values are scalars
// (string/float64/bool/nil) or, before expand flattening, nested
// maps/slices under navigation-property keys.
type Row = map[string]any

// Property describes one declared or probed entity field.
type Property struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// NavigationProperty describes a relationship to another entity.
type NavigationProperty struct {
	Name          string `json:"name"`
	RelatedEntity string `json:"relatedEntity"`
	RelatedType   string `json:"relatedType"`
	IsCollection  bool   `json:"isCollection"`
}

// Schema is the field metadata for one entity. Name is the entity set
// name (the URL segment); TypeName is the EDM type it is backed by.
type Schema struct {
	Name                 string               `json:"name"`
	TypeName             string               `json:"typeName"`
	Label                string               `json:"label"`
	Category             string               `json:"category"`
	Properties           []Property           `json:"properties"`
	Keys                 []string             `json:"keys"`
	NavigationProperties []NavigationProperty `json:"navigationProperties"`
}

// Property returns the named property, or nil if the schema does not
// declare it.
func (s *Schema) Property(name string) *Property {
	for i := range s.Properties {
		if s.Properties[i].Name == name {
			return &s.Properties[i]
		}
	}
	return nil
}

// FieldType returns the Edm (or enum) type of the named field, or the
// empty string when unknown.
func (s *Schema) FieldType(name string) string {
	if s == nil {
		return ""
	}
	if p := s.Property(name); p != nil {
		return p.Type
	}
	return ""
}

// OrderBy is one $orderby term.
type OrderBy struct {
	Field     string
	Direction string // "asc" or "desc"; empty means asc
}

// QueryOptions mirror the OData system query options an entity query
// accepts. Zero values are omitted from the request.
type QueryOptions struct {
	Select  []string
	Filter  string
	OrderBy []OrderBy
	Top     int
	Skip    int
	Count   bool
	Expand  []string

	// CrossCompanyOff disables the cross-company=true parameter that
	// is otherwise always sent (required for dataAreaId filtering).
	CrossCompanyOff bool
}

// QueryResult is the decoded response of one entity query.
type QueryResult struct {
	Data      []Row
	Count     int64
	HasCount  bool
	NextLink  string
	QueryTime time.Duration
}
