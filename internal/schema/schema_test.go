package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"users"`, QuoteIdentifier("users"))
	assert.Equal(t, `"we""ird"`, QuoteIdentifier(`we"ird`))
	assert.Equal(t, `"a""""b"`, QuoteIdentifier(`a""b`))
}

// reparseQualified undoes QualifiedIdentifier for the round-trip check.
func reparseQualified(t *testing.T, qualified string) (string, string) {
	t.Helper()
	parts := strings.SplitN(qualified, `"."`, 2)
	require.Len(t, parts, 2)
	ns := strings.TrimPrefix(parts[0], `"`)
	name := strings.TrimSuffix(parts[1], `"`)
	return strings.ReplaceAll(ns, `""`, `"`), strings.ReplaceAll(name, `""`, `"`)
}

func TestQualifiedIdentifierRoundTrip(t *testing.T) {
	cases := [][2]string{
		{"public", "users"},
		{"reporting", "metrics"},
		{"odd", `ta"ble`},
	}
	for _, c := range cases {
		ns, name := reparseQualified(t, QualifiedIdentifier(c[0], c[1]))
		assert.Equal(t, c[0], ns)
		assert.Equal(t, c[1], name)
	}
}

func TestRouteSegment(t *testing.T) {
	assert.Equal(t, "users", RouteSegment("public", "users"))
	assert.Equal(t, "reporting__metrics", RouteSegment("reporting", "metrics"))
}

func TestMapTypeTag(t *testing.T) {
	t.Run("integers carry range bounds", func(t *testing.T) {
		pt := MapTypeTag("int2")
		assert.Equal(t, KindInteger, pt.Kind)
		require.NotNil(t, pt.Minimum)
		assert.Equal(t, int64(-32768), *pt.Minimum)
		assert.Equal(t, int64(32767), *pt.Maximum)

		pt = MapTypeTag("int4")
		assert.Equal(t, int64(-2147483648), *pt.Minimum)
		assert.Equal(t, int64(2147483647), *pt.Maximum)

		pt = MapTypeTag("int8")
		assert.Nil(t, pt.Minimum)
	})

	t.Run("numbers and booleans", func(t *testing.T) {
		assert.Equal(t, KindNumber, MapTypeTag("float8").Kind)
		assert.Equal(t, KindNumber, MapTypeTag("numeric").Kind)
		assert.Equal(t, KindBoolean, MapTypeTag("bool").Kind)
	})

	t.Run("json maps to unconstrained object", func(t *testing.T) {
		assert.Equal(t, KindObject, MapTypeTag("jsonb").Kind)
		assert.Equal(t, KindObject, MapTypeTag("json").Kind)
	})

	t.Run("string formats", func(t *testing.T) {
		assert.Equal(t, "uuid", MapTypeTag("uuid").Format)
		assert.Equal(t, "date", MapTypeTag("date").Format)
		assert.Equal(t, "date-time", MapTypeTag("timestamptz").Format)
		assert.Equal(t, "time", MapTypeTag("timetz").Format)
		assert.Equal(t, "byte", MapTypeTag("bytea").Format)
	})

	t.Run("underscore prefix denotes array", func(t *testing.T) {
		pt := MapTypeTag("_int4")
		assert.Equal(t, KindArray, pt.Kind)
		require.NotNil(t, pt.Items)
		assert.Equal(t, KindInteger, pt.Items.Kind)

		nested := MapTypeTag("_text")
		assert.Equal(t, KindString, nested.Items.Kind)
	})

	t.Run("unknown tags fall back to string", func(t *testing.T) {
		pt := MapTypeTag("tsvector")
		assert.Equal(t, KindString, pt.Kind)
		assert.Empty(t, pt.Format)
	})
}

func sampleEntities() []*Entity {
	return []*Entity{
		{
			Namespace: "public",
			Name:      "users",
			Columns: []Column{
				{Name: "id", TypeTag: "int4", OrdinalPosition: 1},
				{Name: "name", TypeTag: "text", Nullable: true, OrdinalPosition: 2},
			},
			PrimaryKeys: []string{"id"},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_team", Column: "team_id", ReferencedNamespace: "public", ReferencedTable: "teams", ReferencedColumn: "id"},
			},
		},
		{
			Namespace: "reporting",
			Name:      "metrics",
			Columns: []Column{
				{Name: "day", TypeTag: "date", OrdinalPosition: 1},
				{Name: "value", TypeTag: "numeric", OrdinalPosition: 2},
			},
			PrimaryKeys: []string{"day"},
		},
	}
}

func TestModelLookups(t *testing.T) {
	m := NewModel([]string{"reporting", "public"}, sampleEntities())

	assert.Equal(t, []string{"public", "reporting"}, m.Namespaces)

	e, ok := m.EntityByRoute("users")
	require.True(t, ok)
	assert.Equal(t, "public", e.Namespace)

	e, ok = m.EntityByRoute("reporting__metrics")
	require.True(t, ok)
	assert.Equal(t, "metrics", e.Name)

	_, ok = m.EntityByRoute("metrics")
	assert.False(t, ok)

	_, ok = m.Entity(`"public"."users"`)
	assert.True(t, ok)
}

func TestDigestStability(t *testing.T) {
	m1 := NewModel([]string{"public", "reporting"}, sampleEntities())

	// Same model with columns presented out of order and namespaces
	// reversed digests identically.
	shuffled := sampleEntities()
	shuffled[0].Columns = []Column{shuffled[0].Columns[1], shuffled[0].Columns[0]}
	m2 := NewModel([]string{"reporting", "public"}, []*Entity{shuffled[1], shuffled[0]})

	d1 := m1.Digest()
	assert.Len(t, d1, 64)
	assert.Equal(t, d1, m2.Digest())

	// A semantic change produces a different digest.
	changed := sampleEntities()
	changed[0].Columns[1].Nullable = false
	m3 := NewModel([]string{"public", "reporting"}, changed)
	assert.NotEqual(t, d1, m3.Digest())
}

func TestFilterNamespaces(t *testing.T) {
	raw := []string{"public", "reporting", "pg_temp_3", "pg_toast_temp_1", "audit"}

	t.Run("system prefixes always removed", func(t *testing.T) {
		out := filterNamespaces(raw, IntrospectOptions{})
		assert.Equal(t, []string{"audit", "public", "reporting"}, out)
	})

	t.Run("include list restricts", func(t *testing.T) {
		out := filterNamespaces(raw, IntrospectOptions{IncludeSchemas: []string{"public"}})
		assert.Equal(t, []string{"public"}, out)
	})

	t.Run("exclude removes after include", func(t *testing.T) {
		out := filterNamespaces(raw, IntrospectOptions{ExcludeSchemas: []string{"audit"}})
		assert.Equal(t, []string{"public", "reporting"}, out)
	})
}

func TestAssemble(t *testing.T) {
	columns := []columnRow{
		{Namespace: "public", Table: "users", Column: "id", TypeTag: "int4", DeclaredType: "integer", Ordinal: 1},
		{Namespace: "public", Table: "users", Column: "name", TypeTag: "text", DeclaredType: "text", Nullable: true, Ordinal: 2},
		{Namespace: "public", Table: "skip_me", Column: "id", TypeTag: "int4", DeclaredType: "integer", Ordinal: 1},
	}
	pks := []pkRow{{Namespace: "public", Table: "users", Column: "id"}}
	fks := []fkRow{{
		Namespace: "public", Table: "users", ConstraintName: "fk_x",
		Column: "name", RefNamespace: "public", RefTable: "teams", RefColumn: "id",
	}}

	entities, err := assemble(columns, pks, fks, []string{"public.skip_me"})
	require.NoError(t, err)
	require.Len(t, entities, 1)

	users := entities[0]
	assert.Equal(t, []string{"id", "name"}, users.ColumnNames())
	assert.Equal(t, []string{"id"}, users.PrimaryKeys)
	require.Len(t, users.ForeignKeys, 1)
	assert.Equal(t, "fk_x", users.ForeignKeys[0].ConstraintName)

	t.Run("separator collision is rejected", func(t *testing.T) {
		_, err := assemble([]columnRow{
			{Namespace: "public", Table: "bad__name", Column: "id", TypeTag: "int4", Ordinal: 1},
		}, nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "__")
	})
}

func TestSearchableColumns(t *testing.T) {
	e := &Entity{
		Namespace: "public",
		Name:      "docs",
		Columns: []Column{
			{Name: "id", TypeTag: "int4", OrdinalPosition: 1},
			{Name: "title", TypeTag: "varchar", OrdinalPosition: 2},
			{Name: "body", TypeTag: "text", OrdinalPosition: 3},
			{Name: "meta", TypeTag: "jsonb", OrdinalPosition: 4},
		},
	}
	assert.Equal(t, []string{"title", "body"}, e.SearchableColumns())
}
