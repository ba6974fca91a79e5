package extractor

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("extractor: invalid config")

// Config controls candidate filtering.
type Config struct {
	MinLength     int
	MaxLength     int
	MaxWords      int
	MaxCandidates int
	// PrefixRatio is the share of a gazetteer name a candidate prefix must
	// cover to pass the firewall.
	PrefixRatio     float64
	EnableDistricts bool
	Blocklist       []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinLength:     3,
		MaxLength:     60,
		MaxWords:      4,
		MaxCandidates: 50,
		PrefixRatio:   0.6,
	}
}

func (c Config) Validate() error {
	if c.MinLength < 2 {
		return fmt.Errorf("%w: min length must be at least 2, got %d", ErrInvalidConfig, c.MinLength)
	}
	if c.MaxLength < c.MinLength {
		return fmt.Errorf("%w: max length %d below min length %d", ErrInvalidConfig, c.MaxLength, c.MinLength)
	}
	if c.MaxWords <= 0 {
		return fmt.Errorf("%w: max words must be positive", ErrInvalidConfig)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("%w: max candidates must be positive", ErrInvalidConfig)
	}
	if c.PrefixRatio <= 0 || c.PrefixRatio > 1 {
		return fmt.Errorf("%w: prefix ratio must be in (0, 1], got %v", ErrInvalidConfig, c.PrefixRatio)
	}
	return nil
}
