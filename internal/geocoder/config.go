package geocoder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("geocoder: invalid config")

// Config configures a Geocoder.
type Config struct {
	City    string
	Country string
	// RateLimit is the minimum interval between two external lookups.
	RateLimit time.Duration
	// CacheFile is where the cache is persisted. Empty keeps it in memory.
	CacheFile string
	// FlushInterval is the number of lookups between cache flushes.
	FlushInterval int
	// NegativeTTL is how long a lookup that found nothing is remembered.
	// Zero disables negative caching, so failures are retried every time.
	NegativeTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		City:          "Augsburg",
		Country:       "Deutschland",
		RateLimit:     time.Second,
		FlushInterval: 50,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.City) == "" || strings.TrimSpace(c.Country) == "" {
		return fmt.Errorf("%w: city and country are required", ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush interval must be positive, got %d", ErrInvalidConfig, c.FlushInterval)
	}
	if c.NegativeTTL < 0 {
		return fmt.Errorf("%w: negative ttl must not be negative", ErrInvalidConfig)
	}
	return nil
}
