package msgsock

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var (
	// ErrServerClosed is returned by Accept after Close.
	ErrServerClosed = errors.New("server closed")
	// ErrUnsupportedConn is returned by FromNetConn for connections that
	// do not expose a socket descriptor.
	ErrUnsupportedConn = errors.New("connection does not expose a socket descriptor")
)

// Handler handles accepted connections.
type Handler interface {
	// Handle is called in its own goroutine for each accepted connection.
	// The connection is closed after Handle returns.
	Handle(ctx context.Context, conn *Conn) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *Conn) error

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// Server accepts stream connections and wraps them as framed connections.
type Server struct {
	listener        net.Listener
	logger          Logger
	shutdownTimeout time.Duration
	connOpts        []Option

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // closed by Close, bypasses the shutdown timeout
	closeOnce   sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server keeps accepting for up to this
// duration before closing the listener. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerConnOptions sets the options applied to every accepted connection.
func ServerConnOptions(opt ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opt...)
	}
}

// Listen creates a server bound to address on a stream network
// ("tcp", "tcp4", "tcp6" or "unix").
func Listen(network, address string, opts ...ServerOption) (*Server, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", network, address)
	}

	s := &Server{
		listener:    listener,
		logger:      defaultLogger(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = defaultLogger()
	}

	return s, nil
}

// Accept waits for the next incoming connection.
func (s *Server) Accept() (*Conn, error) {
	nc, err := s.accept()
	if err != nil {
		return nil, err
	}
	return FromNetConn(nc, s.connOpts...)
}

func (s *Server) accept() (net.Conn, error) {
	nc, err := s.listener.Accept()
	if err != nil {
		if s.isShutdown() {
			return nil, ErrServerClosed
		}
		return nil, errors.Wrap(err, "accept")
	}

	s.logger.Debug("accepted connection", "remote_addr", nc.RemoteAddr())
	return nc, nil
}

// Serve accepts connections and dispatches each to the handler in its own
// goroutine. It blocks until the context is canceled, Close is called or
// accepting fails. After cancellation it returns the context's error.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.Addr())

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.acceptLoop(child, handler)
	})

	group.Go(func() error {
		return s.awaitShutdown(ctx, child)
	})

	err := group.Wait()
	if errors.Is(err, ErrServerClosed) {
		err = ctx.Err()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("server stopped with error", "addr", s.Addr(), "error", err)
	} else {
		s.logger.Info("server stopped", "addr", s.Addr())
	}

	return err
}

func (s *Server) acceptLoop(ctx context.Context, handler Handler) error {
	for {
		nc, err := s.accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		conn, err := FromNetConn(nc, s.connOpts...)
		if err != nil {
			s.logger.Warn("dropping connection", "remote_addr", nc.RemoteAddr(), "error", err)
			continue
		}

		go s.handle(ctx, handler, conn)
	}
}

func (s *Server) handle(ctx context.Context, handler Handler, conn *Conn) {
	if err := handler.Handle(ctx, conn); err != nil && !errors.Is(err, ErrPeerClosed) {
		s.logger.Info("connection closed with error", "fd", conn.Fd(), "error", err)
	}
	if !conn.IsClosed() {
		_ = conn.Close()
	}
}

// awaitShutdown closes the listener once child is done. The shutdown
// timeout only applies when the caller canceled parent.
func (s *Server) awaitShutdown(parent, child context.Context) error {
	<-child.Done()

	if parent.Err() != nil && s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
		select {
		case <-time.After(s.shutdownTimeout):
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	_ = s.listener.Close()

	return child.Err()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is pending, Close bypasses the rest of it.
// Connections already accepted are not affected.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.shutdownNow) })

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Dial connects to address on a stream network and returns the framed
// connection.
func Dial(network, address string, opt ...Option) (*Conn, error) {
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}
	return FromNetConn(nc, opt...)
}

// FromNetConn takes over the socket behind nc. The descriptor is
// duplicated and nc is closed, so the returned Conn is its only owner.
func FromNetConn(nc net.Conn, opt ...Option) (*Conn, error) {
	defer nc.Close()

	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedConn, "%T", nc)
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "syscall conn")
	}

	fd := -1
	var dupErr error
	err = raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	})
	if err == nil {
		err = dupErr
	}
	if err != nil {
		return nil, errors.Wrap(err, "dup")
	}
	unix.CloseOnExec(fd)

	return NewConn(fd, opt...)
}
