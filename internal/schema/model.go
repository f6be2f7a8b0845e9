package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Column describes one table column as read from the catalog.
type Column struct {
	Name            string
	TypeTag         string
	DeclaredType    string
	Nullable        bool
	HasDefault      bool
	DefaultText     *string
	MaxTextLength   *int
	OrdinalPosition int
}

// ForeignKey is one referencing column of a foreign-key constraint.
type ForeignKey struct {
	ConstraintName      string
	Column              string
	ReferencedNamespace string
	ReferencedTable     string
	ReferencedColumn    string
}

// Entity is a single relational table together with everything the
// gateway derives from it. Entities are immutable once introspection
// completes.
type Entity struct {
	Namespace   string
	Name        string
	Columns     []Column
	PrimaryKeys []string
	ForeignKeys []ForeignKey
}

// QualifiedIdentifier returns the quoted two-part SQL name.
func (e *Entity) QualifiedIdentifier() string {
	return QualifiedIdentifier(e.Namespace, e.Name)
}

// RouteSegment returns the URL identifier the entity is addressed by.
func (e *Entity) RouteSegment() string {
	return RouteSegment(e.Namespace, e.Name)
}

// Column returns the named column, or nil when the entity has none by
// that name.
func (e *Entity) Column(name string) *Column {
	for i := range e.Columns {
		if e.Columns[i].Name == name {
			return &e.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the declared column names in ordinal order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the entity declares the named column.
func (e *Entity) HasColumn(name string) bool {
	return e.Column(name) != nil
}

// IsPrimaryKey reports whether the named column is part of the primary key.
func (e *Entity) IsPrimaryKey(name string) bool {
	for _, pk := range e.PrimaryKeys {
		if pk == name {
			return true
		}
	}
	return false
}

// SearchableColumns returns the columns that participate in default
// search, in declared order.
func (e *Entity) SearchableColumns() []string {
	var cols []string
	for _, c := range e.Columns {
		if IsTextualTag(c.TypeTag) {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// Model is the immutable in-memory schema built once at startup and
// shared by reference with every request handler.
type Model struct {
	Namespaces []string
	entities   map[string]*Entity // keyed by qualified identifier
	byRoute    map[string]*Entity // keyed by route segment
}

// NewModel assembles a model from introspected entities. Namespaces are
// sorted; lookups by qualified identifier and by route segment are built
// here and never change.
func NewModel(namespaces []string, entities []*Entity) *Model {
	sorted := append([]string(nil), namespaces...)
	sort.Strings(sorted)

	m := &Model{
		Namespaces: sorted,
		entities:   make(map[string]*Entity, len(entities)),
		byRoute:    make(map[string]*Entity, len(entities)),
	}
	for _, e := range entities {
		m.entities[e.QualifiedIdentifier()] = e
		m.byRoute[e.RouteSegment()] = e
	}
	return m
}

// Entity looks up an entity by its qualified identifier.
func (m *Model) Entity(qualified string) (*Entity, bool) {
	e, ok := m.entities[qualified]
	return e, ok
}

// EntityByRoute looks up an entity by its URL route segment.
func (m *Model) EntityByRoute(segment string) (*Entity, bool) {
	e, ok := m.byRoute[segment]
	return e, ok
}

// Entities returns all entities sorted by qualified identifier.
func (m *Model) Entities() []*Entity {
	keys := make([]string, 0, len(m.entities))
	for k := range m.entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Entity, len(keys))
	for i, k := range keys {
		out[i] = m.entities[k]
	}
	return out
}

// Len returns the number of entities in the model.
func (m *Model) Len() int {
	return len(m.entities)
}

// canonical serialization types for the model digest. Only semantic
// fields participate; everything is sorted so the digest is independent
// of source ordering.
type digestColumn struct {
	Name          string  `json:"name"`
	TypeTag       string  `json:"type_tag"`
	Nullable      bool    `json:"nullable"`
	HasDefault    bool    `json:"has_default"`
	MaxTextLength *int    `json:"max_text_length,omitempty"`
	DefaultText   *string `json:"default_text,omitempty"`
}

type digestFK struct {
	ConstraintName      string `json:"constraint_name"`
	Column              string `json:"column"`
	ReferencedNamespace string `json:"referenced_namespace"`
	ReferencedTable     string `json:"referenced_table"`
	ReferencedColumn    string `json:"referenced_column"`
}

type digestEntity struct {
	Namespace   string         `json:"namespace"`
	Name        string         `json:"name"`
	Columns     []digestColumn `json:"columns"`
	PrimaryKeys []string       `json:"primary_keys"`
	ForeignKeys []digestFK     `json:"foreign_keys"`
}

type digestModel struct {
	Namespaces []string       `json:"namespaces"`
	Entities   []digestEntity `json:"entities"`
}

// Digest returns the deterministic SHA-256 of the canonicalized model,
// hex encoded. Two processes introspecting the same catalog produce the
// same digest, which exposes schema drift across deployments.
func (m *Model) Digest() string {
	dm := digestModel{Namespaces: m.Namespaces}

	for _, e := range m.Entities() {
		cols := append([]Column(nil), e.Columns...)
		sort.Slice(cols, func(i, j int) bool { return cols[i].OrdinalPosition < cols[j].OrdinalPosition })

		dcols := make([]digestColumn, len(cols))
		for i, c := range cols {
			dcols[i] = digestColumn{
				Name:          c.Name,
				TypeTag:       c.TypeTag,
				Nullable:      c.Nullable,
				HasDefault:    c.HasDefault,
				MaxTextLength: c.MaxTextLength,
				DefaultText:   c.DefaultText,
			}
		}

		pks := append([]string(nil), e.PrimaryKeys...)
		sort.Strings(pks)

		fks := append([]ForeignKey(nil), e.ForeignKeys...)
		sort.Slice(fks, func(i, j int) bool { return fks[i].ConstraintName < fks[j].ConstraintName })
		dfks := make([]digestFK, len(fks))
		for i, fk := range fks {
			dfks[i] = digestFK{
				ConstraintName:      fk.ConstraintName,
				Column:              fk.Column,
				ReferencedNamespace: fk.ReferencedNamespace,
				ReferencedTable:     fk.ReferencedTable,
				ReferencedColumn:    fk.ReferencedColumn,
			}
		}

		dm.Entities = append(dm.Entities, digestEntity{
			Namespace:   e.Namespace,
			Name:        e.Name,
			Columns:     dcols,
			PrimaryKeys: pks,
			ForeignKeys: dfks,
		})
	}

	// encoding/json marshals struct fields in declaration order, so the
	// byte stream is fully deterministic.
	raw, _ := json.Marshal(dm)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
