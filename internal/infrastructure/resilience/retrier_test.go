package resilience

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts:       4,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          300 * time.Millisecond,
		RateLimitMaxWaits: 3,
		DefaultRetryAfter: time.Second,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"connection exception", &pgconn.PgError{Code: "08006"}, Transient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, Transient},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, Transient},
		{"too many connections", &pgconn.PgError{Code: "53300"}, Transient},
		{"serialization failure", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40001"}), Transient},
		{"auth failure", &pgconn.PgError{Code: "28P01"}, Fatal},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, Fatal},
		{"syntax error", &pgconn.PgError{Code: "42601"}, Fatal},
		{"mssql deadlock", mssql.Error{Number: 1205}, Transient},
		{"mssql azure reconfiguration", mssql.Error{Number: 40613}, Transient},
		{"mssql login failed", mssql.Error{Number: 18456}, Fatal},
		{"mssql invalid object", mssql.Error{Number: 208}, Fatal},
		{"bad conn", driver.ErrBadConn, Transient},
		{"eof", fmt.Errorf("read: %w", io.EOF), Transient},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, Transient},
		{"dns", &net.DNSError{Err: "no such host", Name: "db"}, Transient},
		{"terminated message", errors.New("FATAL: connection terminated unexpectedly"), Transient},
		{"rate limit message", errors.New("HTTP 429 Too Many Requests"), RateLimited},
		{"rate limit error", &RateLimitError{RetryAfter: time.Second}, RateLimited},
		{"configuration", shared.NewConfigurationError("table", "missing"), Fatal},
		{"constraint conflict", shared.ErrConstraintConflict, Fatal},
		{"canceled", context.Canceled, Fatal},
		{"unknown", errors.New("permission denied for table x"), Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.err)
			assert.Equal(t, tt.want, got, got.String())
		})
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(10))
}

func TestRetrier_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("success on first try", func(t *testing.T) {
		rec := &sleepRecorder{}
		r := NewRetrier("source", testPolicy(), zap.NewNop(), WithSleep(rec.sleep))

		calls := 0
		err := r.Do(ctx, "query", func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, rec.delays)
		assert.Equal(t, StateConnected, r.State())
	})

	t.Run("transient failures reconnect and recover", func(t *testing.T) {
		rec := &sleepRecorder{}
		reconnects := 0
		var transitions []string
		r := NewRetrier("source", testPolicy(), zap.NewNop(),
			WithSleep(rec.sleep),
			WithReconnect(func(ctx context.Context) error {
				reconnects++
				return nil
			}),
			WithObserver(func(from, to State) {
				transitions = append(transitions, from.String()+"->"+to.String())
			}),
		)

		calls := 0
		err := r.Do(ctx, "query", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return driver.ErrBadConn
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, reconnects)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
		assert.Equal(t, []string{"connected->reconnecting", "reconnecting->connected"}, transitions)
		assert.Equal(t, StateConnected, r.State())
	})

	t.Run("exhaustion escalates and fails the retrier", func(t *testing.T) {
		rec := &sleepRecorder{}
		r := NewRetrier("source", testPolicy(), zap.NewNop(), WithSleep(rec.sleep))

		calls := 0
		err := r.Do(ctx, "query", func(ctx context.Context) error {
			calls++
			return io.ErrUnexpectedEOF
		})
		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 4, exhausted.Attempts)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.Equal(t, 4, calls)
		assert.Len(t, rec.delays, 3)
		assert.Equal(t, StateFailed, r.State())

		calls = 0
		err = r.Do(ctx, "query", func(ctx context.Context) error {
			calls++
			return nil
		})
		assert.Error(t, err, "failed state is terminal")
		assert.Zero(t, calls)

		r.Reset()
		assert.NoError(t, r.Do(ctx, "query", func(ctx context.Context) error { return nil }))
	})

	t.Run("fatal errors are not retried", func(t *testing.T) {
		rec := &sleepRecorder{}
		r := NewRetrier("store", testPolicy(), zap.NewNop(), WithSleep(rec.sleep))

		fatal := &pgconn.PgError{Code: "42P01", Message: `relation "customers" does not exist`}
		calls := 0
		err := r.Do(ctx, "save", func(ctx context.Context) error {
			calls++
			return fatal
		})
		assert.Same(t, fatal, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, rec.delays)
		assert.Equal(t, StateConnected, r.State())
	})

	t.Run("rate limits wait for the hint without consuming attempts", func(t *testing.T) {
		rec := &sleepRecorder{}
		r := NewRetrier("api", testPolicy(), zap.NewNop(), WithSleep(rec.sleep))

		calls := 0
		err := r.Do(ctx, "fetch", func(ctx context.Context) error {
			calls++
			switch calls {
			case 1:
				return &RateLimitError{RetryAfter: 7 * time.Second}
			case 2:
				return &RateLimitError{}
			case 3, 4, 5:
				return driver.ErrBadConn
			}
			return nil
		})
		require.NoError(t, err, "three transient failures stay under four attempts")
		assert.Equal(t, 6, calls)
		assert.Equal(t, []time.Duration{
			7 * time.Second, time.Second,
			100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond,
		}, rec.delays)
	})

	t.Run("rate limits are bounded", func(t *testing.T) {
		rec := &sleepRecorder{}
		r := NewRetrier("api", testPolicy(), zap.NewNop(), WithSleep(rec.sleep))

		err := r.Do(ctx, "fetch", func(ctx context.Context) error {
			return &RateLimitError{RetryAfter: time.Second}
		})
		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Len(t, rec.delays, 3)
	})

	t.Run("fatal reconnect failure stops retrying", func(t *testing.T) {
		rec := &sleepRecorder{}
		r := NewRetrier("source", testPolicy(), zap.NewNop(),
			WithSleep(rec.sleep),
			WithReconnect(func(ctx context.Context) error {
				return &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}
			}),
		)
		err := r.Do(ctx, "query", func(ctx context.Context) error { return driver.ErrBadConn })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reconnect failed")
		assert.Equal(t, StateFailed, r.State())
	})

	t.Run("cancelled context stops the loop", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		r := NewRetrier("source", testPolicy(), zap.NewNop(), WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))
		err := r.Do(cctx, "query", func(ctx context.Context) error { return driver.ErrBadConn })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDoValue(t *testing.T) {
	r := NewRetrier("store", testPolicy(), nil, WithSleep((&sleepRecorder{}).sleep))
	calls := 0
	v, err := DoValue(context.Background(), r, "count", func(ctx context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 0, driver.ErrBadConn
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("30", now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = ParseRetryAfter("Mon, 01 Jan 2024 12:01:00 GMT", now)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	_, ok = ParseRetryAfter("Mon, 01 Jan 2024 11:00:00 GMT", now)
	assert.False(t, ok, "dates in the past carry no wait")

	for _, raw := range []string{"", "0", "-5", "soon"} {
		_, ok = ParseRetryAfter(raw, now)
		assert.False(t, ok, raw)
	}

	d, ok = RetryAfterFromHeaders(map[string]string{"RETRY-AFTER": "2"}, now)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}
