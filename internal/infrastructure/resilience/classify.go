package resilience

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
)

// Class is the retry category of an error
type Class int

const (
	// Fatal errors propagate immediately
	Fatal Class = iota
	// Transient errors are retried with backoff and reconnection
	Transient
	// RateLimited errors are retried after the upstream's hint without
	// consuming an attempt
	RateLimited
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// SQL Server error numbers worth retrying: deadlock victim, timeout, Azure
// SQL reconfiguration and throttling, dropped transport.
var mssqlTransient = map[int32]bool{
	-2:    true,
	64:    true,
	233:   true,
	1205:  true,
	10053: true,
	10054: true,
	10060: true,
	10928: true,
	10929: true,
	40197: true,
	40501: true,
	40613: true,
	49918: true,
	49919: true,
	49920: true,
}

var transientMessages = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"connection terminated unexpectedly",
	"server closed the connection unexpectedly",
	"the database system is starting up",
	"the database system is shutting down",
	"terminating connection due to administrator command",
	"i/o timeout",
	"timeout",
	"too many connections",
	"temporarily unavailable",
	"no such host",
	"unexpected eof",
	"bad connection",
}

var rateLimitMessages = []string{
	"429",
	"too many requests",
	"rate limit",
}

// Classify decides how an error is handled. For RateLimited errors the
// returned duration is the upstream's retry hint (zero when absent).
func Classify(err error) (Class, time.Duration) {
	if err == nil {
		return Fatal, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal, 0
	}
	if shared.IsConfigurationError(err) || shared.IsConstraintConflict(err) {
		return Fatal, 0
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return RateLimited, rl.RetryAfter
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code), 0
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		if mssqlTransient[msErr.Number] {
			return Transient, 0
		}
		return Fatal, 0
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return Transient, 0
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return Transient, 0
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient, 0
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return Transient, 0
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient, 0
	}

	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMessages {
		if strings.Contains(msg, m) {
			return RateLimited, 0
		}
	}
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return Transient, 0
		}
	}
	return Fatal, 0
}

// classifySQLState maps PostgreSQL error codes. Connection exceptions,
// shutdowns, resource exhaustion and serialization failures are transient;
// authentication, syntax and undefined objects are fatal.
func classifySQLState(code string) Class {
	switch {
	case strings.HasPrefix(code, "08"):
		return Transient
	case code == "57P01", code == "57P02", code == "57P03":
		return Transient
	case code == "53300", code == "53400":
		return Transient
	case code == "40001", code == "40P01", code == "55P03":
		return Transient
	default:
		return Fatal
	}
}

// IsTransient reports whether err would be retried
func IsTransient(err error) bool {
	c, _ := Classify(err)
	return c != Fatal
}
