package db

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Options tunes the connection pool and the async write queue.
type Options struct {
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	Workers         int
	QueueSize       int
}

// Client is the farmbase store. Reads and writes go through the circuit
// breaker; run results are written by a small pool of background workers.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	now    func() time.Time

	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	stopOnce   sync.Once
	workerWg   sync.WaitGroup
}

// WriteRequest is an async write handled by the worker pool.
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeRunResult WriteType = iota
	WriteTypeInboundMessage
)

func (wt WriteType) String() string {
	switch wt {
	case WriteTypeRunResult:
		return "RunResult"
	case WriteTypeInboundMessage:
		return "InboundMessage"
	default:
		return "Unknown"
	}
}

// DSN builds the driver data source name from config.
func DSN(cfg config.PostgresConfig) (driver, dsn string) {
	if cfg.Driver == "sqlite3" {
		return "sqlite3", cfg.Path
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}
	return "postgres", fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslmode,
	)
}

// NewClient opens the farmbase database and pings it.
func NewClient(cfg config.PostgresConfig, opts Options, logger *zap.Logger) (*Client, error) {
	if opts.MaxConnections == 0 {
		opts.MaxConnections = 25
	}
	if opts.IdleConnections == 0 {
		opts.IdleConnections = 5
	}
	if opts.MaxLifetime == 0 {
		opts.MaxLifetime = 5 * time.Minute
	}

	driver, dsn := DSN(cfg)
	raw, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// One writer at a time; sqlite serialises anyway.
		raw.SetMaxOpenConns(1)
	} else {
		raw.SetMaxOpenConns(opts.MaxConnections)
		raw.SetMaxIdleConns(opts.IdleConnections)
		raw.SetConnMaxLifetime(opts.MaxLifetime)
	}

	c := NewFromDB(raw, opts, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database client initialized",
		zap.String("driver", driver),
		zap.String("host", cfg.Host),
		zap.Int("workers", c.workers),
	)
	return c, nil
}

// NewFromDB wraps an already opened handle. Tests use it with sqlmock and
// in-memory sqlite.
func NewFromDB(raw *sqlx.DB, opts Options, logger *zap.Logger) *Client {
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 256
	}
	c := &Client{
		db:         circuitbreaker.NewDatabaseWrapper(raw, logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		writeQueue: make(chan WriteRequest, opts.QueueSize),
		workers:    opts.Workers,
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
	return c
}

// Migrate applies the embedded schema for the current driver. Statements are
// idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	name := "migrations/postgres.sql"
	if c.db.DriverName() == "sqlite3" {
		name = "migrations/sqlite3.sql"
	}
	raw, err := migrations.ReadFile(name)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	c.logger.Info("Database schema applied", zap.String("driver", c.db.DriverName()))
	return nil
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.Type {
	case WriteTypeRunResult:
		if r, ok := req.Data.(*RunResult); ok {
			_, err = c.SaveRunResult(ctx, r)
		}
	case WriteTypeInboundMessage:
		if m, ok := req.Data.(*Message); ok {
			_, _, err = c.SaveMessage(ctx, m)
		}
	default:
		err = fmt.Errorf("unknown write type %d", req.Type)
	}

	if req.Callback != nil {
		req.Callback(err)
	}
	if err != nil {
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
}

func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// QueueWrite hands a write to the worker pool. A full queue falls back to a
// synchronous write so nothing is dropped.
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) {
	req := WriteRequest{Type: writeType, Data: data, Callback: callback}
	select {
	case c.writeQueue <- req:
	default:
		c.logger.Warn("Write queue is full, falling back to synchronous write",
			zap.String("type", writeType.String()))
		c.processWrite(req)
	}
}

// Ping is used by the health checker.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// Close stops the workers after draining queued writes and closes the pool.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.workerWg.Wait()
	return c.db.Close()
}
