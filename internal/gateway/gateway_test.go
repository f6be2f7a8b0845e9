package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/pgcrud/pgcrud/internal/schema"
	"github.com/pgcrud/pgcrud/pkg/config"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

// recordedQuery captures one executed statement for assertions.
type recordedQuery struct {
	SQL  string
	Args []interface{}
}

// stubExecutor satisfies Executor without a database. Count queries get
// a synthetic total; everything else returns the configured rows.
type stubExecutor struct {
	mu      sync.Mutex
	queries []recordedQuery
	rows    []map[string]interface{}
	total   int64
	err     error
}

func (s *stubExecutor) QueryMaps(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	s.mu.Lock()
	s.queries = append(s.queries, recordedQuery{SQL: sql, Args: args})
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if strings.Contains(sql, "COUNT(*)") {
		return []map[string]interface{}{{"total": s.total}}, nil
	}
	return s.rows, nil
}

func (s *stubExecutor) recorded() []recordedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedQuery(nil), s.queries...)
}

func testModel() *schema.Model {
	return schema.NewModel([]string{"public", "reporting"}, []*schema.Entity{
		{
			Namespace: "public",
			Name:      "users",
			Columns: []schema.Column{
				{Name: "id", TypeTag: "int4", DeclaredType: "integer", OrdinalPosition: 1},
				{Name: "name", TypeTag: "text", DeclaredType: "text", Nullable: true, OrdinalPosition: 2},
				{Name: "email", TypeTag: "text", DeclaredType: "text", Nullable: true, OrdinalPosition: 3},
			},
			PrimaryKeys: []string{"id"},
		},
		{
			Namespace: "public",
			Name:      "posts",
			Columns: []schema.Column{
				{Name: "id", TypeTag: "int4", DeclaredType: "integer", OrdinalPosition: 1},
				{Name: "title", TypeTag: "text", DeclaredType: "text", OrdinalPosition: 2},
				{Name: "updated_at", TypeTag: "timestamptz", Nullable: true, OrdinalPosition: 3},
				{Name: "deleted_at", TypeTag: "timestamptz", Nullable: true, OrdinalPosition: 4},
			},
			PrimaryKeys: []string{"id"},
		},
		{
			Namespace: "public",
			Name:      "user_roles",
			Columns: []schema.Column{
				{Name: "user_id", TypeTag: "int4", OrdinalPosition: 1},
				{Name: "role_id", TypeTag: "int4", OrdinalPosition: 2},
			},
			PrimaryKeys: []string{"user_id", "role_id"},
		},
		{
			Namespace: "reporting",
			Name:      "metrics",
			Columns: []schema.Column{
				{Name: "day", TypeTag: "date", OrdinalPosition: 1},
				{Name: "value", TypeTag: "numeric", OrdinalPosition: 2},
			},
			PrimaryKeys: []string{"day"},
		},
	})
}

func testConfig() *config.Config {
	return &config.Config{
		DatabaseURL:     "postgres://localhost/test",
		Host:            "127.0.0.1",
		Port:            3000,
		DefaultPageSize: 20,
		MaxPageSize:     100,
		MaxBulkRows:     1000,
		MaxBodyBytes:    1 << 20,
		CORSAllowAll:    true,
		PoolMaxConns:    10,
	}
}

// newTestEngine builds an engine with stubbed executors and no pools.
func newTestEngine(cfg *config.Config) (*Engine, *stubExecutor) {
	if cfg == nil {
		cfg = testConfig()
	}
	engine := NewEngine(cfg, testModel(), nil, nil, logger.NewNop())
	stub := &stubExecutor{}
	engine.SetExecutors(stub, nil)
	return engine, stub
}
