package source

import (
	"context"
	"sync"

	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/infrastructure/resilience"
)

// ReconnectingConn runs source queries under a Retrier and replaces the
// underlying connection whenever the retrier asks for a reconnect.
type ReconnectingConn struct {
	dialect Dialect
	dial    Dialer
	retrier *resilience.Retrier

	mu   sync.Mutex
	conn Conn
}

var _ Conn = (*ReconnectingConn)(nil)

// NewReconnectingConn creates a ReconnectingConn and installs its reconnect
// hook on retrier.
func NewReconnectingConn(dialect Dialect, dial Dialer, retrier *resilience.Retrier) *ReconnectingConn {
	rc := &ReconnectingConn{dialect: dialect, dial: dial, retrier: retrier}
	retrier.SetReconnect(rc.reconnect)
	return rc
}

// Connect opens the first connection
func (c *ReconnectingConn) Connect(ctx context.Context) error {
	return c.retrier.Do(ctx, "connect", func(ctx context.Context) error {
		_, err := c.current(ctx)
		return err
	})
}

func (c *ReconnectingConn) Dialect() Dialect { return c.dialect }

func (c *ReconnectingConn) Query(ctx context.Context, query string, args ...any) ([]mapping.Row, error) {
	return resilience.DoValue(ctx, c.retrier, "query", func(ctx context.Context) ([]mapping.Row, error) {
		conn, err := c.current(ctx)
		if err != nil {
			return nil, err
		}
		return conn.Query(ctx, query, args...)
	})
}

func (c *ReconnectingConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	return err
}

// State exposes the retrier state
func (c *ReconnectingConn) State() resilience.State {
	return c.retrier.State()
}

func (c *ReconnectingConn) current(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *ReconnectingConn) reconnect(ctx context.Context) error {
	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.mu.Unlock()

	if old != nil {
		_ = old.Close(ctx)
	}
	_, err := c.current(ctx)
	return err
}
