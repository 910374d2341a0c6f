// Package retry implements bounded exponential backoff for provider
// calls. Only errors classified as transient are retried.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/tessera-kb/tessera/pkg/types"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultConfig matches the typical three-attempt provider policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Jitter:     true,
	}
}

// IsTransient reports whether an error is worth retrying: coded
// PROVIDER_TRANSIENT errors and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var coded *types.Error
	if errors.As(err, &coded) {
		return coded.Code == types.ErrProviderTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// TransientStatus reports whether an HTTP status from a provider is
// transient (429 or any 5xx).
func TransientStatus(status int) bool {
	return status == 429 || status >= 500
}

// Do runs op, retrying transient failures with exponential backoff
// until the attempts are exhausted or the context is done.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	var err error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.delay(attempt)):
			}
		}

		err = op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

func (c Config) delay(attempt int) time.Duration {
	d := c.BaseDelay << (attempt - 1)
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter && d > 0 {
		d = d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
	}
	return d
}
