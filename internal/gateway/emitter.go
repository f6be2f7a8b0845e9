package gateway

import (
	"github.com/pgcrud/pgcrud/internal/query"
	"github.com/pgcrud/pgcrud/internal/schema"
)

// The surface schema emitter: the machine-readable self-description of
// one entity and of the API as a whole. Both the meta endpoints and the
// MCP resources are shaped here so the two surfaces never drift.

// ColumnDescription is the emitted view of one column.
type ColumnDescription struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Format         string `json:"format,omitempty"`
	Nullable       bool   `json:"nullable"`
	HasDefault     bool   `json:"has_default"`
	PrimaryKey     bool   `json:"primary_key"`
	InsertRequired bool   `json:"insert_required"`
	MaxLength      *int   `json:"max_length,omitempty"`
}

// ForeignKeyDescription is the emitted view of one foreign key,
// including the route of the referenced table.
type ForeignKeyDescription struct {
	ConstraintName   string `json:"constraint_name"`
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
	RefPath          string `json:"ref_path"`
}

// EntityDescription is the emitted view of one table.
type EntityDescription struct {
	Name              string                  `json:"name"`
	Namespace         string                  `json:"namespace"`
	Path              string                  `json:"path"`
	Operations        []string                `json:"operations"`
	PrimaryKeys       []string                `json:"primary_keys"`
	Columns           []ColumnDescription     `json:"columns"`
	ForeignKeys       []ForeignKeyDescription `json:"foreign_keys"`
	SearchableColumns []string                `json:"searchable_columns"`
}

// Capabilities is the API capabilities envelope.
type Capabilities struct {
	BasePath        string           `json:"base_path"`
	Auth            AuthCapabilities `json:"auth"`
	Pagination      PaginationCaps   `json:"pagination"`
	FilterOperators []string         `json:"filter_operators"`
	SortParam       string           `json:"sort_param"`
	SortOrderParam  string           `json:"sort_order_param"`
	SearchParam     string           `json:"search_param"`
	SelectParam     string           `json:"select_param"`
	FilterPrefix    string           `json:"filter_prefix"`
	MaxBulkRows     int              `json:"max_bulk_rows"`
	MaxInListItems  int              `json:"max_in_list_items"`
}

// AuthCapabilities reports how callers authenticate.
type AuthCapabilities struct {
	Enabled bool     `json:"enabled"`
	Headers []string `json:"headers"`
}

// PaginationCaps reports paging defaults and limits.
type PaginationCaps struct {
	DefaultPageSize int `json:"default_page_size"`
	MaxPageSize     int `json:"max_page_size"`
}

// DescribeEntity emits the self-description of one table. By-key
// operations appear only when the table has a primary key.
func DescribeEntity(e *schema.Entity) EntityDescription {
	ops := []string{"list", "create"}
	if len(e.PrimaryKeys) > 0 {
		ops = append(ops, "read", "update", "replace", "delete")
	}

	cols := make([]ColumnDescription, len(e.Columns))
	for i, c := range e.Columns {
		pt := schema.MapTypeTag(c.TypeTag)
		cols[i] = ColumnDescription{
			Name:           c.Name,
			Type:           string(pt.Kind),
			Format:         pt.Format,
			Nullable:       c.Nullable,
			HasDefault:     c.HasDefault,
			PrimaryKey:     e.IsPrimaryKey(c.Name),
			InsertRequired: !c.Nullable && !c.HasDefault,
			MaxLength:      c.MaxTextLength,
		}
	}

	fks := make([]ForeignKeyDescription, len(e.ForeignKeys))
	for i, fk := range e.ForeignKeys {
		fks[i] = ForeignKeyDescription{
			ConstraintName:   fk.ConstraintName,
			Column:           fk.Column,
			ReferencedTable:  fk.ReferencedNamespace + "." + fk.ReferencedTable,
			ReferencedColumn: fk.ReferencedColumn,
			RefPath:          "/api/" + schema.RouteSegment(fk.ReferencedNamespace, fk.ReferencedTable),
		}
	}

	pks := e.PrimaryKeys
	if pks == nil {
		pks = []string{}
	}
	searchable := e.SearchableColumns()
	if searchable == nil {
		searchable = []string{}
	}

	return EntityDescription{
		Name:              e.Name,
		Namespace:         e.Namespace,
		Path:              "/api/" + e.RouteSegment(),
		Operations:        ops,
		PrimaryKeys:       pks,
		Columns:           cols,
		ForeignKeys:       fks,
		SearchableColumns: searchable,
	}
}

// filterOperatorNames lists the filter grammar for the capabilities
// envelope, in documentation order.
var filterOperatorNames = []string{"eq", "neq", "gt", "gte", "lt", "lte", "like", "ilike", "is", "in"}

// DescribeCapabilities emits the API capabilities envelope.
func (e *Engine) DescribeCapabilities() Capabilities {
	return Capabilities{
		BasePath: "/api",
		Auth: AuthCapabilities{
			Enabled: e.cfg.AuthEnabled,
			Headers: []string{"Authorization: Bearer", "X-API-Key"},
		},
		Pagination: PaginationCaps{
			DefaultPageSize: e.cfg.DefaultPageSize,
			MaxPageSize:     e.cfg.MaxPageSize,
		},
		FilterOperators: filterOperatorNames,
		SortParam:       "sortBy",
		SortOrderParam:  "sortOrder",
		SearchParam:     "search",
		SelectParam:     "select",
		FilterPrefix:    filterParamPrefix,
		MaxBulkRows:     e.cfg.MaxBulkRows,
		MaxInListItems:  query.MaxInListItems,
	}
}
