package gateway

import (
	"time"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/logging"
)

const (
	defaultWriteTimeout    = 5 * time.Second
	defaultReadLimit       = 4 * 1024 * 1024
	defaultDialAttempts    = 5
	defaultDialInitial     = 100 * time.Millisecond
	defaultDialMaxInterval = 2 * time.Second
)

// Option configures a Server or a HostClient.
type Option func(*options)

type options struct {
	logger          *logging.Logger
	writeTimeout    time.Duration
	readLimit       int64
	capability      string
	dialAttempts    int
	dialInitial     time.Duration
	dialMaxInterval time.Duration
}

func newOptions(opts []Option) *options {
	cfg := &options{
		logger:          logging.NopLogger(),
		writeTimeout:    defaultWriteTimeout,
		readLimit:       defaultReadLimit,
		capability:      bridge.InterfaceName,
		dialAttempts:    defaultDialAttempts,
		dialInitial:     defaultDialInitial,
		dialMaxInterval: defaultDialMaxInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.writeTimeout <= 0 {
		cfg.writeTimeout = defaultWriteTimeout
	}
	if cfg.readLimit <= 0 {
		cfg.readLimit = defaultReadLimit
	}
	if cfg.dialAttempts <= 0 {
		cfg.dialAttempts = 1
	}
	return cfg
}

func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithReadLimit caps the size of a single inbound frame.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

// WithRequiredCapability sets the tag a registering integrator must declare.
// An empty tag accepts any integrator.
func WithRequiredCapability(tag string) Option {
	return func(o *options) {
		o.capability = tag
	}
}

// WithDialAttempts sets how many times Dial tries to reach the host.
func WithDialAttempts(n int) Option {
	return func(o *options) {
		o.dialAttempts = n
	}
}

// WithDialBackoff sets the exponential backoff bounds between dial attempts.
func WithDialBackoff(initial, maxInterval time.Duration) Option {
	return func(o *options) {
		o.dialInitial = initial
		o.dialMaxInterval = maxInterval
	}
}
