package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/BarkinBalci/event-ingestion-service/internal/config"
)

const (
	dialTimeout      = 5 * time.Second
	maxExecutionTime = 60
	clientName       = "event-ingestion-service"
)

// Client owns the connection pool to the processed event store.
type Client struct {
	conn driver.Conn
	log  *zap.Logger
}

// NewClient opens a pool to the configured ClickHouse server and verifies it with a ping.
// The pool is closed again if the ping fails.
func NewClient(ctx context.Context, cfg *config.ClickHouse, log *zap.Logger) (*Client, error) {
	opts := buildOptions(cfg)

	log.Info("Connecting to ClickHouse",
		zap.Strings("addr", opts.Addr),
		zap.String("database", cfg.Database),
		zap.Bool("tls", cfg.UseTLS),
		zap.Int("maxOpenConns", cfg.MaxOpenConns))

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s: %w", opts.Addr[0], err)
	}

	log.Info("ClickHouse connection established")

	return &Client{conn: conn, log: log}, nil
}

func buildOptions(cfg *config.ClickHouse) *clickhouse.Options {
	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": maxExecutionTime,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: clientName, Version: "1"},
			},
		},
		TLS:              tlsConfig,
		DialTimeout:      dialTimeout,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  time.Duration(cfg.ConnMaxLifetime) * time.Second,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		BlockBufferSize:  10,
	}
}

// Conn returns the underlying pool.
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Close releases the pool.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		c.log.Error("Error closing ClickHouse connection", zap.Error(err))
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	c.log.Info("ClickHouse connection closed")
	return nil
}
