package odata

import (
	"fmt"
	"strings"
)

// NoMatchSentinel is a value no real record carries. Filtering on it
// makes a query legitimately return zero rows, which is how an empty
// semi-join result is expressed.
const NoMatchSentinel = "__NO_MATCH__"

var numericTypes = map[string]bool{
	"Edm.Int16":   true,
	"Edm.Int32":   true,
	"Edm.Int64":   true,
	"Edm.Decimal": true,
	"Edm.Double":  true,
	"Edm.Single":  true,
	"Edm.Byte":    true,
}

var dateTypes = map[string]bool{
	"Edm.Date":           true,
	"Edm.DateTime":       true,
	"Edm.DateTimeOffset": true,
}

// IsNumericType reports whether t is an Edm numeric type.
func IsNumericType(t string) bool { return numericTypes[t] }

// IsDateType reports whether t is an Edm date type.
func IsDateType(t string) bool { return dateTypes[t] }

// IsEnumType reports whether t is a service-defined enum. Enum types
// carry qualified names like "Microsoft.Dynamics.DataEntities.NoYes"
// rather than an Edm. prefix.
func IsEnumType(t string) bool { return t != "" && !strings.HasPrefix(t, "Edm.") }

// EscapeString doubles single quotes for inclusion in an OData string
// literal.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// FormatValue renders value as an OData literal for a field of the
// given type: enums as Qualified.Type'Value', numerics/guids/dates
// bare, booleans normalized, everything else single-quoted.
func FormatValue(fieldType, value string) string {
	switch {
	case fieldType == "Edm.Boolean":
		if strings.EqualFold(value, "true") || value == "1" {
			return "true"
		}
		return "false"
	case IsEnumType(fieldType):
		return fieldType + "'" + EscapeString(value) + "'"
	case IsNumericType(fieldType), fieldType == "Edm.Guid", IsDateType(fieldType):
		return value
	default:
		return "'" + EscapeString(value) + "'"
	}
}

// Condition builds one $filter condition in D365 F&O syntax. The
// schema supplies the field's type; a nil schema treats every field as
// a string. Returns "" when the combination cannot produce a
// condition (no field, or a blank value with an operator that needs
// one).
//
// D365 notes encoded here: substring operators use wildcards in the
// value ("field eq '*v*'"), not the contains() function family, and
// fall back to equality for non-string fields; "ne null" is not
// accepted, so null checks become eq ''/ne '' for strings and
// eq null/not(... eq null) otherwise.
func Condition(schema *Schema, field, operator, value string) string {
	if field == "" {
		return ""
	}
	fieldType := schema.FieldType(field)

	if operator == "null" || operator == "notnull" {
		isString := fieldType == "" || fieldType == "Edm.String"
		switch {
		case operator == "null" && isString:
			return field + " eq ''"
		case operator == "null":
			return field + " eq null"
		case isString:
			return field + " ne ''"
		default:
			return "not(" + field + " eq null)"
		}
	}

	// Blank values only make sense for eq/ne (matching blank fields).
	if value == "" && operator != "eq" && operator != "ne" {
		return ""
	}

	nonString := IsEnumType(fieldType) || IsNumericType(fieldType) || IsDateType(fieldType) || fieldType == "Edm.Boolean"
	formatted := FormatValue(fieldType, value)

	switch operator {
	case "eq", "ne", "gt", "ge", "lt", "le":
		return fmt.Sprintf("%s %s %s", field, operator, formatted)
	case "contains":
		if nonString {
			return field + " eq " + formatted
		}
		return field + " eq '*" + EscapeString(value) + "*'"
	case "startswith":
		if nonString {
			return field + " eq " + formatted
		}
		return field + " eq '" + EscapeString(value) + "*'"
	case "endswith":
		if nonString {
			return field + " eq " + formatted
		}
		return field + " eq '*" + EscapeString(value) + "'"
	}
	return ""
}

// TargetCondition builds a condition against a join target's schema.
// Unlike Condition it uses plain eq null/ne null checks and skips
// blank values entirely.
func TargetCondition(schema *Schema, field, operator, value string) string {
	if field == "" {
		return ""
	}
	switch operator {
	case "null":
		return field + " eq null"
	case "notnull":
		return field + " ne null"
	}
	if value == "" {
		return ""
	}
	return Condition(schema, field, operator, value)
}

// EqualityChain builds an OR-chain of equality conditions, the
// IN-predicate substitute the service understands. Values beyond max
// are dropped.
func EqualityChain(field, fieldType string, values []string, max int) string {
	if len(values) == 0 {
		return ""
	}
	if max > 0 && len(values) > max {
		values = values[:max]
	}
	numeric := IsNumericType(fieldType)
	conds := make([]string, 0, len(values))
	for _, v := range values {
		if numeric {
			conds = append(conds, field+" eq "+v)
		} else {
			conds = append(conds, field+" eq '"+EscapeString(v)+"'")
		}
	}
	return "(" + strings.Join(conds, " or ") + ")"
}
