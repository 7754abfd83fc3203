package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	log "github.com/sirupsen/logrus"
)

const (
	defaultQueryTimeout = 30 * time.Second
	maxAttempts         = 3
	backoffMin          = 4 * time.Second
	backoffMax          = 10 * time.Second
)

// Client wraps the Neo4j driver with read-only execution, transient-failure
// retries and row flattening. All queries run with parameter binding; query
// text is never interpolated here.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, uri, user, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	log.WithField("uri", uri).Info("Neo4j connection established")
	return &Client{
		driver:   driver,
		database: database,
		timeout:  defaultQueryTimeout,
	}, nil
}

// ExecuteRead runs a read-only query with bound parameters and returns the
// rows as flattened maps. Transient connection failures are retried with
// exponential backoff, for at most three attempts in all.
func (c *Client) ExecuteRead(ctx context.Context, query string, parameters map[string]any) ([]map[string]any, error) {
	start := time.Now()

	var rows []map[string]any
	var err error
	backoff := backoffMin
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rows, err = c.runRead(ctx, query, parameters)
		if err == nil {
			break
		}
		if attempt == maxAttempts || !neo4j.IsRetryable(err) {
			log.WithFields(log.Fields{
				"error": err.Error(),
				"query": truncate(query, 100),
			}).Error("Cypher query failed")
			return nil, err
		}
		log.WithFields(log.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("Transient Neo4j failure, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}

	log.WithFields(log.Fields{
		"execution_time_ms": time.Since(start).Milliseconds(),
		"row_count":         len(rows),
		"query":             truncate(query, 100),
	}).Debug("Cypher query executed")

	return rows, nil
}

// ExecuteReadSingle runs a query and returns the first row, or nil when the
// result is empty.
func (c *Client) ExecuteReadSingle(ctx context.Context, query string, parameters map[string]any) (map[string]any, error) {
	rows, err := c.ExecuteRead(ctx, query, parameters)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Health checks that the store answers a trivial read.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.runRead(ctx, "RETURN 1 AS health", nil)
	return err
}

// Close releases the underlying driver.
func (c *Client) Close(ctx context.Context) error {
	log.Info("Neo4j connection closed")
	return c.driver.Close(ctx)
}

func (c *Client) runRead(ctx context.Context, query string, parameters map[string]any) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, parameters)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, record := range records {
			rows = append(rows, flattenRecord(record.AsMap()))
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]map[string]any), nil
}

// flattenRecord converts driver values into plain maps and primitives so
// rows serialize cleanly: nodes and relationships become their property
// maps, temporal values become ISO-8601 strings.
func flattenRecord(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = flattenValue(v)
	}
	return out
}

func flattenValue(value any) any {
	switch v := value.(type) {
	case dbtype.Node:
		return flattenRecord(v.Props)
	case dbtype.Relationship:
		return flattenRecord(v.Props)
	case dbtype.Date:
		return v.Time().Format("2006-01-02")
	case dbtype.LocalDateTime:
		return v.Time().Format(time.RFC3339)
	case time.Time:
		return v.Format(time.RFC3339)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = flattenValue(item)
		}
		return out
	case map[string]any:
		return flattenRecord(v)
	default:
		return v
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
