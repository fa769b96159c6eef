package msgsock

// options holds the configuration for a connection.
type options struct {
	logger Logger

	readChunkSize  int // bytes requested per recv call
	maxMessageSize int // largest accepted payload, 0 means unlimited
}

// Option is a function that configures connection options.
type Option func(*options)

// ReadChunkSizeOption returns an Option that sets how many bytes are
// requested from the socket per read call while draining it.
func ReadChunkSizeOption(size int) Option {
	return func(o *options) {
		o.readChunkSize = size
	}
}

// MessageMaxSize returns an Option that sets the maximum payload size.
// A frame announcing a larger payload fails the connection with
// ErrMessageTooLarge. Zero or a negative value means no limit.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// checkOptions sets default values for connection options.
func checkOptions(opts *options) {
	if opts.readChunkSize <= 0 {
		opts.readChunkSize = defaultReadChunkSize
	}

	if opts.maxMessageSize < 0 {
		opts.maxMessageSize = 0
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

func buildOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}
