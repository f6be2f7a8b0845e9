package schema

import "strings"

// PortableKind is the JSON-compatible documentation type a native column
// type maps to.
type PortableKind string

const (
	KindInteger PortableKind = "integer"
	KindNumber  PortableKind = "number"
	KindBoolean PortableKind = "boolean"
	KindString  PortableKind = "string"
	KindObject  PortableKind = "object"
	KindArray   PortableKind = "array"
)

// PortableType describes one column in vendor-neutral terms. Format
// carries the string format tag where one applies (uuid, date-time, …);
// Minimum/Maximum carry integer range bounds for the 2- and 4-byte
// integer forms; Items is set for arrays.
type PortableType struct {
	Kind    PortableKind
	Format  string
	Minimum *int64
	Maximum *int64
	Items   *PortableType
}

func intBounds(bits uint) (*int64, *int64) {
	max := int64(1)<<(bits-1) - 1
	min := -max - 1
	return &min, &max
}

// MapTypeTag maps a low-level pg_type tag (udt_name) to its portable
// type. The function is total: unknown tags map to plain string, and a
// leading underscore denotes an array of the base tag.
func MapTypeTag(tag string) PortableType {
	if strings.HasPrefix(tag, "_") {
		elem := MapTypeTag(strings.TrimPrefix(tag, "_"))
		return PortableType{Kind: KindArray, Items: &elem}
	}

	switch tag {
	case "int2", "smallint", "smallserial":
		min, max := intBounds(16)
		return PortableType{Kind: KindInteger, Minimum: min, Maximum: max}
	case "int4", "integer", "serial":
		min, max := intBounds(32)
		return PortableType{Kind: KindInteger, Minimum: min, Maximum: max}
	case "int8", "bigint", "bigserial":
		return PortableType{Kind: KindInteger}
	case "float4", "float8", "real", "double precision":
		return PortableType{Kind: KindNumber}
	case "numeric", "decimal", "money":
		return PortableType{Kind: KindNumber}
	case "bool", "boolean":
		return PortableType{Kind: KindBoolean}
	case "json", "jsonb":
		return PortableType{Kind: KindObject}
	case "uuid":
		return PortableType{Kind: KindString, Format: "uuid"}
	case "date":
		return PortableType{Kind: KindString, Format: "date"}
	case "timestamp", "timestamptz":
		return PortableType{Kind: KindString, Format: "date-time"}
	case "time", "timetz":
		return PortableType{Kind: KindString, Format: "time"}
	case "bytea":
		return PortableType{Kind: KindString, Format: "byte"}
	default:
		return PortableType{Kind: KindString}
	}
}

// textualTags are the type tags search falls back to when no explicit
// search column list is given.
var textualTags = map[string]bool{
	"text":    true,
	"varchar": true,
	"bpchar":  true,
	"char":    true,
	"citext":  true,
	"name":    true,
}

// IsTextualTag reports whether a column with this tag participates in
// default full-row search.
func IsTextualTag(tag string) bool {
	return textualTags[tag]
}
