// Package gateway wires the introspected schema model, the credential
// engine, the query builder, and the connection pools into the request
// pipeline shared by the REST and MCP surfaces.
package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pgcrud/pgcrud/internal/query"
	"github.com/pgcrud/pgcrud/internal/schema"
	"github.com/pgcrud/pgcrud/internal/token"
	"github.com/pgcrud/pgcrud/pkg/config"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

// Executor runs one query and returns its rows as maps keyed by column
// name. The production implementation wraps a pgx pool; tests supply a
// stub that records the generated SQL.
type Executor interface {
	QueryMaps(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// Engine is the process-wide request core. Everything it holds is
// either immutable after startup or safe for concurrent use.
type Engine struct {
	cfg     *config.Config
	model   *schema.Model
	builder *query.Builder
	tokens  *token.Engine
	logger  *logger.Logger

	primary Executor
	read    Executor

	primaryPool *pgxpool.Pool
	readPool    *pgxpool.Pool

	ongoingOperations int32

	requestsProcessed prometheus.Counter
	requestErrors     prometheus.Counter
	queryDuration     prometheus.Histogram
}

// NewEngine assembles the engine. readPool may be nil, in which case
// reads fall back to the primary.
func NewEngine(cfg *config.Config, model *schema.Model, primaryPool, readPool *pgxpool.Pool, log *logger.Logger) *Engine {
	e := &Engine{
		cfg:     cfg,
		model:   model,
		builder: &query.Builder{MaxPageSize: cfg.MaxPageSize, MaxBulkRows: cfg.MaxBulkRows},
		logger:  log,

		primaryPool: primaryPool,
		readPool:    readPool,

		requestsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgcrud_requests_total",
			Help: "Requests processed by the dispatch core.",
		}),
		requestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgcrud_request_errors_total",
			Help: "Requests that ended in an error response.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pgcrud_query_duration_seconds",
			Help:    "Wall time of executed SQL statements.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if cfg.AuthEnabled {
		e.tokens = token.NewEngine(cfg.APIKeySecret)
	}

	e.primary = &poolExecutor{pool: primaryPool, duration: e.queryDuration}
	if readPool != nil {
		e.read = &poolExecutor{pool: readPool, duration: e.queryDuration}
	} else {
		e.read = e.primary
	}

	return e
}

// Register adds the engine's metrics to a prometheus registry.
func (e *Engine) Register(reg prometheus.Registerer) {
	reg.MustRegister(e.requestsProcessed, e.requestErrors, e.queryDuration)
}

// Model returns the immutable schema model.
func (e *Engine) Model() *schema.Model {
	return e.model
}

// Config returns the immutable configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *logger.Logger {
	return e.logger
}

// Builder returns the SQL builder configured with this engine's caps.
func (e *Engine) Builder() *query.Builder {
	return e.builder
}

// Tokens returns the credential engine, or nil when auth is disabled.
func (e *Engine) Tokens() *token.Engine {
	return e.tokens
}

// TrackOperation records the start of one in-flight request.
func (e *Engine) TrackOperation() {
	atomic.AddInt32(&e.ongoingOperations, 1)
	e.requestsProcessed.Inc()
}

// UntrackOperation records the end of one in-flight request.
func (e *Engine) UntrackOperation() {
	atomic.AddInt32(&e.ongoingOperations, -1)
}

// OngoingOperations reports the number of requests currently in flight.
func (e *Engine) OngoingOperations() int32 {
	return atomic.LoadInt32(&e.ongoingOperations)
}

// CountError increments the error metric.
func (e *Engine) CountError() {
	e.requestErrors.Inc()
}

// ProbeDatabase checks primary-pool liveness with a bounded timeout.
func (e *Engine) ProbeDatabase(ctx context.Context) error {
	if e.primaryPool == nil {
		return fmt.Errorf("no primary pool configured")
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.primaryPool.Ping(probeCtx)
}

// Close releases both pools.
func (e *Engine) Close() {
	if e.primaryPool != nil {
		e.primaryPool.Close()
	}
	if e.readPool != nil {
		e.readPool.Close()
	}
}

// SetExecutors overrides the executors. Tests use this to observe the
// generated SQL without a live database.
func (e *Engine) SetExecutors(primary, read Executor) {
	e.primary = primary
	if read != nil {
		e.read = read
	} else {
		e.read = primary
	}
}

// poolExecutor adapts a pgx pool to the Executor interface, collecting
// rows into maps keyed by column name.
type poolExecutor struct {
	pool     *pgxpool.Pool
	duration prometheus.Histogram
}

func (p *poolExecutor) QueryMaps(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	var out []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("error reading row values: %w", err)
		}
		row := make(map[string]interface{}, len(descs))
		for i, d := range descs {
			row[string(d.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.duration.Observe(time.Since(start).Seconds())
	return out, nil
}

// ConnectPool opens a pgx pool for the given URL with the gateway's
// statement timeout and connection cap applied.
func ConnectPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("error parsing database URL: %w", err)
	}
	poolCfg.MaxConns = maxConns
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}
	return pool, nil
}
