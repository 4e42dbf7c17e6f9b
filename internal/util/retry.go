package util

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries  int           // Additional attempts after the first one
	InitialWait time.Duration // Wait before the first retry (doubled each retry)
	MaxWait     time.Duration // Maximum wait duration between retries
}

// DefaultRetryConfig returns the upstream API retry policy
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  6,
		InitialWait: 800 * time.Millisecond,
		MaxWait:     20 * time.Second,
	}
}

// Backoff returns the capped exponential wait before retry number attempt (1-based)
func (c *RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := c.InitialWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= c.MaxWait {
			return c.MaxWait
		}
	}
	if wait > c.MaxWait {
		return c.MaxWait
	}
	return wait
}

// IsRetryableError checks if a transport error is worth retrying
// Returns true for timeouts and transient connection failures
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is the caller giving up, never transient
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var syscallError syscall.Errno
	if errors.As(err, &syscallError) {
		switch syscallError {
		case syscall.EAGAIN,
			syscall.ETIMEDOUT,
			syscall.ECONNRESET,
			syscall.ECONNABORTED,
			syscall.ECONNREFUSED,
			syscall.ENETDOWN,
			syscall.ENETUNREACH,
			syscall.EHOSTDOWN,
			syscall.EHOSTUNREACH:
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	// Check error messages for common transient patterns
	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"broken pipe",
		"no route to host",
		"network is unreachable",
		"eof",
		"temporary failure",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
