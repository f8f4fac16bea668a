package accounting

type options struct {
	logger *Logger
}

// Option configures bitmap construction.
type Option func(*options)

// WithLogger configures the logger used for lifecycle and diagnostic events.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: NoopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
