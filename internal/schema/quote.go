package schema

import "strings"

// QuoteIdentifier wraps a catalog name in double quotes, doubling any
// embedded quotes. Every identifier that reaches generated SQL goes
// through here; identifiers are never bound as parameters.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedIdentifier returns the two-part quoted SQL name of a table.
func QualifiedIdentifier(namespace, name string) string {
	return QuoteIdentifier(namespace) + "." + QuoteIdentifier(name)
}

// routeSeparator joins namespace and table in URL route segments for
// tables outside the public namespace. Catalog names containing the
// separator are rejected at introspection so the mapping stays
// reversible.
const routeSeparator = "__"

// RouteSegment derives the URL-safe identifier a table is addressed by.
func RouteSegment(namespace, name string) string {
	if namespace == "public" {
		return name
	}
	return namespace + routeSeparator + name
}
