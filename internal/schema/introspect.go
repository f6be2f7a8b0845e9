package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/pgcrud/pgcrud/pkg/logger"
)

// systemNamespaces are never exposed regardless of configuration.
var systemNamespaces = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
}

// IntrospectOptions narrows which parts of the catalog become entities.
type IntrospectOptions struct {
	// IncludeSchemas restricts discovery to these namespaces when
	// non-empty.
	IncludeSchemas []string
	// ExcludeSchemas removes namespaces after inclusion.
	ExcludeSchemas []string
	// ExcludeTables removes individual tables by "namespace.table".
	ExcludeTables []string
}

// Introspect reads the database catalog and assembles the immutable
// schema model. The namespace listing completes first; the column,
// primary-key, and foreign-key queries then run concurrently and their
// results are merged. Any catalog query failure is fatal.
func Introspect(ctx context.Context, pool *pgxpool.Pool, opts IntrospectOptions, log *logger.Logger) (*Model, error) {
	raw, err := listNamespaces(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("error listing namespaces: %w", err)
	}

	namespaces := filterNamespaces(raw, opts)
	if len(namespaces) == 0 {
		return nil, fmt.Errorf("invalid configuration: no namespaces remain after include/exclude filtering")
	}

	var (
		columnRows []columnRow
		pkRows     []pkRow
		fkRows     []fkRow
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		columnRows, err = listColumns(gctx, pool, namespaces)
		return err
	})
	g.Go(func() error {
		var err error
		pkRows, err = listPrimaryKeys(gctx, pool, namespaces)
		return err
	})
	g.Go(func() error {
		var err error
		fkRows, err = listForeignKeys(gctx, pool, namespaces)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("error reading catalog: %w", err)
	}

	entities, err := assemble(columnRows, pkRows, fkRows, opts.ExcludeTables)
	if err != nil {
		return nil, err
	}

	model := NewModel(namespaces, entities)
	warn(model, log)
	return model, nil
}

func filterNamespaces(raw []string, opts IntrospectOptions) []string {
	include := make(map[string]bool, len(opts.IncludeSchemas))
	for _, s := range opts.IncludeSchemas {
		include[s] = true
	}
	exclude := make(map[string]bool, len(opts.ExcludeSchemas))
	for _, s := range opts.ExcludeSchemas {
		exclude[s] = true
	}

	var out []string
	for _, ns := range raw {
		if systemNamespaces[ns] || strings.HasPrefix(ns, "pg_temp") || strings.HasPrefix(ns, "pg_toast_temp") {
			continue
		}
		if len(include) > 0 && !include[ns] {
			continue
		}
		if exclude[ns] {
			continue
		}
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

type columnRow struct {
	Namespace     string
	Table         string
	Column        string
	TypeTag       string
	DeclaredType  string
	Nullable      bool
	DefaultText   *string
	MaxTextLength *int
	Ordinal       int
}

type pkRow struct {
	Namespace string
	Table     string
	Column    string
}

type fkRow struct {
	Namespace      string
	Table          string
	ConstraintName string
	Column         string
	RefNamespace   string
	RefTable       string
	RefColumn      string
}

func listNamespaces(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	query := `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg\_%'
		  AND schema_name != 'information_schema'
		ORDER BY schema_name`

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("error scanning namespace row: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

func listColumns(ctx context.Context, pool *pgxpool.Pool, namespaces []string) ([]columnRow, error) {
	query := `
		SELECT
			c.table_schema,
			c.table_name,
			c.column_name,
			c.udt_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			c.character_maximum_length,
			c.ordinal_position
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = ANY($1)
		  AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	rows, err := pool.Query(ctx, query, namespaces)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []columnRow
	for rows.Next() {
		var (
			r          columnRow
			isNullable string
			defText    sql.NullString
			maxLen     sql.NullInt64
		)
		if err := rows.Scan(&r.Namespace, &r.Table, &r.Column, &r.TypeTag, &r.DeclaredType, &isNullable, &defText, &maxLen, &r.Ordinal); err != nil {
			return nil, fmt.Errorf("error scanning column row: %w", err)
		}
		r.Nullable = isNullable == "YES"
		if defText.Valid {
			r.DefaultText = &defText.String
		}
		if maxLen.Valid {
			n := int(maxLen.Int64)
			r.MaxTextLength = &n
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func listPrimaryKeys(ctx context.Context, pool *pgxpool.Pool, namespaces []string) ([]pkRow, error) {
	query := `
		SELECT kcu.table_schema, kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = ANY($1)
		ORDER BY kcu.table_schema, kcu.table_name, kcu.ordinal_position`

	rows, err := pool.Query(ctx, query, namespaces)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pkRow
	for rows.Next() {
		var r pkRow
		if err := rows.Scan(&r.Namespace, &r.Table, &r.Column); err != nil {
			return nil, fmt.Errorf("error scanning primary key row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func listForeignKeys(ctx context.Context, pool *pgxpool.Pool, namespaces []string) ([]fkRow, error) {
	query := `
		SELECT
			tc.table_schema,
			tc.table_name,
			tc.constraint_name,
			kcu.column_name,
			ccu.table_schema AS referenced_schema,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		 AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = ANY($1)
		ORDER BY tc.table_schema, tc.table_name, tc.constraint_name`

	rows, err := pool.Query(ctx, query, namespaces)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fkRow
	for rows.Next() {
		var r fkRow
		if err := rows.Scan(&r.Namespace, &r.Table, &r.ConstraintName, &r.Column, &r.RefNamespace, &r.RefTable, &r.RefColumn); err != nil {
			return nil, fmt.Errorf("error scanning foreign key row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// assemble merges the three catalog result sets into entities. One
// entity exists per distinct (namespace, table) pair seen in the column
// listing; excluded tables are dropped here.
func assemble(columns []columnRow, pks []pkRow, fks []fkRow, excludeTables []string) ([]*Entity, error) {
	excluded := make(map[string]bool, len(excludeTables))
	for _, t := range excludeTables {
		excluded[t] = true
	}

	entities := make(map[string]*Entity)
	var order []string

	for _, r := range columns {
		full := r.Namespace + "." + r.Table
		if excluded[full] {
			continue
		}
		if strings.Contains(r.Namespace, routeSeparator) || strings.Contains(r.Table, routeSeparator) {
			return nil, fmt.Errorf("invalid configuration: catalog name %q contains %q, which collides with route segments", full, routeSeparator)
		}

		e, ok := entities[full]
		if !ok {
			e = &Entity{Namespace: r.Namespace, Name: r.Table}
			entities[full] = e
			order = append(order, full)
		}
		e.Columns = append(e.Columns, Column{
			Name:            r.Column,
			TypeTag:         r.TypeTag,
			DeclaredType:    r.DeclaredType,
			Nullable:        r.Nullable,
			HasDefault:      r.DefaultText != nil,
			DefaultText:     r.DefaultText,
			MaxTextLength:   r.MaxTextLength,
			OrdinalPosition: r.Ordinal,
		})
	}

	for _, r := range pks {
		if e, ok := entities[r.Namespace+"."+r.Table]; ok {
			e.PrimaryKeys = append(e.PrimaryKeys, r.Column)
		}
	}

	for _, r := range fks {
		if e, ok := entities[r.Namespace+"."+r.Table]; ok {
			e.ForeignKeys = append(e.ForeignKeys, ForeignKey{
				ConstraintName:      r.ConstraintName,
				Column:              r.Column,
				ReferencedNamespace: r.RefNamespace,
				ReferencedTable:     r.RefTable,
				ReferencedColumn:    r.RefColumn,
			})
		}
	}

	out := make([]*Entity, len(order))
	for i, k := range order {
		out[i] = entities[k]
	}
	return out, nil
}

// warn logs the reduced-capability and dangling-reference conditions.
// Warnings never fail introspection.
func warn(m *Model, log *logger.Logger) {
	if log == nil {
		return
	}
	for _, e := range m.Entities() {
		if len(e.PrimaryKeys) == 0 {
			log.Warnf("table %s has no primary key; by-key read, update, and delete are unavailable", e.QualifiedIdentifier())
		}
		for _, fk := range e.ForeignKeys {
			ref := QualifiedIdentifier(fk.ReferencedNamespace, fk.ReferencedTable)
			if _, ok := m.Entity(ref); !ok {
				log.Warnf("foreign key %s on %s references %s, which is outside the introspected model", fk.ConstraintName, e.QualifiedIdentifier(), ref)
			}
		}
	}
}
