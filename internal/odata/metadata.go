package odata

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// edmx document shape, reduced to the elements we read. Element names
// match on local name, so the edmx/edm namespaces need no handling.
type edmxDocument struct {
	Schemas []edmxSchema `xml:"DataServices>Schema"`
}

type edmxSchema struct {
	EntityTypes []edmxEntityType `xml:"EntityType"`
	Containers  []edmxContainer  `xml:"EntityContainer"`
}

type edmxContainer struct {
	EntitySets []edmxEntitySet `xml:"EntitySet"`
}

type edmxEntitySet struct {
	Name       string `xml:"Name,attr"`
	EntityType string `xml:"EntityType,attr"`
}

type edmxEntityType struct {
	Name     string         `xml:"Name,attr"`
	Keys     []edmxKeyRef   `xml:"Key>PropertyRef"`
	Props    []edmxProperty `xml:"Property"`
	NavProps []edmxNavProp  `xml:"NavigationProperty"`
}

type edmxKeyRef struct {
	Name string `xml:"Name,attr"`
}

type edmxProperty struct {
	Name     string `xml:"Name,attr"`
	Type     string `xml:"Type,attr"`
	Nullable string `xml:"Nullable,attr"`
}

type edmxNavProp struct {
	Name string `xml:"Name,attr"`
	Type string `xml:"Type,attr"`
}

// ParseMetadata extracts entity schemas from an OData $metadata (EDMX)
// document. Entity set names (the URL segments) are resolved through
// the container's EntitySet declarations; entities are returned sorted
// by set name.
func ParseMetadata(doc []byte) ([]*Schema, error) {
	var parsed edmxDocument
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("parse $metadata: %w", err)
	}

	// Map EDM type names to entity set names.
	// EntityType attr format: "Microsoft.Dynamics.DataEntities.CustomerV3"
	setByType := map[string]string{}
	for _, schema := range parsed.Schemas {
		for _, container := range schema.Containers {
			for _, set := range container.EntitySets {
				if set.Name == "" || set.EntityType == "" {
					continue
				}
				typeName := lastSegment(set.EntityType)
				setByType[typeName] = set.Name
			}
		}
	}

	var entities []*Schema
	for _, schema := range parsed.Schemas {
		for _, et := range schema.EntityTypes {
			if et.Name == "" {
				continue
			}
			setName := et.Name
			if s, ok := setByType[et.Name]; ok {
				setName = s
			}

			entity := &Schema{
				Name:     setName,
				TypeName: et.Name,
				Label:    FormatEntityLabel(et.Name),
				Category: CategorizeEntity(et.Name),
			}
			for _, p := range et.Props {
				entity.Properties = append(entity.Properties, Property{
					Name:     p.Name,
					Type:     p.Type,
					Nullable: p.Nullable != "false",
				})
			}
			for _, k := range et.Keys {
				entity.Keys = append(entity.Keys, k.Name)
			}
			for _, np := range et.NavProps {
				if np.Name == "" || np.Type == "" {
					continue
				}
				isCollection := strings.HasPrefix(np.Type, "Collection(")
				relatedType := lastSegment(strings.TrimSuffix(strings.TrimPrefix(np.Type, "Collection("), ")"))
				related := relatedType
				if s, ok := setByType[relatedType]; ok {
					related = s
				}
				entity.NavigationProperties = append(entity.NavigationProperties, NavigationProperty{
					Name:          np.Name,
					RelatedEntity: related,
					RelatedType:   relatedType,
					IsCollection:  isCollection,
				})
			}
			entities = append(entities, entity)
		}
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities, nil
}

func lastSegment(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

var (
	versionSuffix = regexp.MustCompile(`V\d+$`)
	capitalRuns   = regexp.MustCompile(`([A-Z])`)
)

// FormatEntityLabel turns an entity type name into a readable label:
// version and Entity suffixes are stripped and spaces are inserted
// before capitals ("ReleasedProductsV2" -> "Released Products").
func FormatEntityLabel(name string) string {
	label := versionSuffix.ReplaceAllString(name, "")
	label = strings.TrimSuffix(label, "Entities")
	label = strings.TrimSuffix(label, "Entity")
	label = capitalRuns.ReplaceAllString(label, " $1")
	return strings.TrimSpace(label)
}

// CategorizeEntity buckets an entity into a functional area by name
// pattern. Unrecognized names land in "Other".
func CategorizeEntity(name string) string {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "customer", "sales", "quote", "order"):
		return "Sales"
	case containsAny(n, "vendor", "purchase", "supplier"):
		return "Purchasing"
	case containsAny(n, "item", "product", "inventory", "warehouse"):
		return "Inventory"
	case containsAny(n, "ledger", "journal", "account", "fiscal", "tax", "currency"):
		return "Finance"
	case containsAny(n, "worker", "employee", "position", "payroll"):
		return "HR"
	case containsAny(n, "project", "activity"):
		return "Project"
	case containsAny(n, "production", "bom", "route"):
		return "Manufacturing"
	}
	return "Other"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
