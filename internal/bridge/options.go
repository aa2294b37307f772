package bridge

import (
	"time"

	"github.com/san-kum/simbridge/internal/logging"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultCompletionTimeout = 30 * time.Second
)

// Option configures a Bridge.
type Option func(*config)

type config struct {
	id                string
	logger            *logging.Logger
	handshakeTimeout  time.Duration
	completionTimeout time.Duration
	bestEffort        bool
}

// WithLogger sets the logger for the bridge.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithID overrides the generated instance ID.
func WithID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}

// WithHandshakeTimeout bounds the wait on integratorReady. Zero disables the bound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) {
		c.handshakeTimeout = max(d, 0)
	}
}

// WithCompletionTimeout bounds the wait on resultsReady. Zero disables the bound.
func WithCompletionTimeout(d time.Duration) Option {
	return func(c *config) {
		c.completionTimeout = max(d, 0)
	}
}

// WithBestEffortResults sends resultsReady even when the step fails. The
// failure is still returned to the caller of RunIntegration.
func WithBestEffortResults(enabled bool) Option {
	return func(c *config) {
		c.bestEffort = enabled
	}
}
