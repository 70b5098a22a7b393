// Package retry provides exponential-backoff execution of fallible
// operations against the Doris frontend. Transient failures (network
// timeouts, dropped connections, a small allow-list of MySQL connection
// error codes) are retried up to the policy; everything else propagates
// immediately.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	doriserrors "github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/logger"
)

// Policy defines retry behavior. The effective delay for attempt n is
// min(InitialDelay * Multiplier^n, MaxDelay).
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation is invoked at most MaxRetries+1 times.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// OnRetry, when set, observes each retry attempt (for metrics)
	OnRetry func(opName string, attempt int)
}

// NewPolicy creates a retry policy with exponential backoff
func NewPolicy(maxRetries int, initialDelay time.Duration) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: initialDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Retryable MySQL server error codes, mirroring the classic transient set:
// can't connect, server gone away, lost connection mid-query, too many
// connections, lock wait timeout.
var retryableMySQLCodes = map[uint16]struct{}{
	2003: {},
	2006: {},
	2013: {},
	1040: {},
	1205: {},
}

// IsTransient reports whether err is a transient connection failure worth
// retrying. Syntax, permission and not-found errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		_, ok := retryableMySQLCodes[mysqlErr.Number]
		return ok
	}

	// Driver-level connection loss
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	// Server disconnected mid-stream
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Connection refused / reset at the socket level
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// Request timeouts
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return doriserrors.IsRetryable(err)
}

// Execute runs fn under the policy. On a transient failure it sleeps the
// computed backoff and retries; a non-transient failure propagates
// immediately. After exhausting all attempts it returns a ConnectionError
// carrying the last cause and the attempt count.
func (p *Policy) Execute(ctx context.Context, opName string, fn func(ctx context.Context) error) error {
	return p.ExecuteWithCondition(ctx, opName, fn, IsTransient)
}

// ExecuteWithCondition runs fn under the policy, retrying only errors for
// which shouldRetry returns true.
func (p *Policy) ExecuteWithCondition(ctx context.Context, opName string, fn func(ctx context.Context) error, shouldRetry func(error) bool) error {
	attempts := p.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !shouldRetry(err) {
			return err
		}

		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(opName, attempt+1)
		}
		logger.Warn("operation failed, retrying",
			zap.String("operation", opName),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &doriserrors.ConnectionError{
		Op:       opName,
		Attempts: attempts,
		Cause:    lastErr,
	}
}

// delay computes the backoff for a given zero-based attempt
func (p *Policy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}
