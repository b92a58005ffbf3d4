package state

import "time"

// Config holds tunables for the conversation store.
type Config struct {
	// SilenceTimeout bounds how long the store will report the user as
	// speaking without a finalization event arriving. When it elapses the
	// store synthesizes a final transcript from the last seen partial text
	// and clears the speaking flag. The right value depends on transport
	// timing, so it is configurable rather than fixed.
	// Default: 5s.
	SilenceTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 5 * time.Second
	}
	return c
}
