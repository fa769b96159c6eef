// Package msgsock exchanges discrete byte messages over stream sockets.
// Each message travels as a frame: the payload length in decimal ASCII,
// a newline, then exactly that many payload bytes.
//
// A Conn owns one socket descriptor. Reads never toggle the descriptor's
// blocking mode: Ready drains whatever is available with non-blocking
// receives, and Receive waits for readability with poll(2) in between.
package msgsock

import (
	"bytes"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Errors returned by connection operations.
var (
	// ErrConnectionClosed is returned when operating on a closed connection,
	// including a second call to Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrPeerClosed is returned once the peer has closed its end and no
	// complete frame is left in the read buffer.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrMalformedHeader is returned when the stream does not start with
	// a decimal length followed by a newline.
	ErrMalformedHeader = errors.New("malformed frame header")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrInvalidDescriptor is returned for a negative or stale socket descriptor.
	ErrInvalidDescriptor = errors.New("invalid socket descriptor")
)

// defaultReadChunkSize is the number of bytes requested per recv call.
const defaultReadChunkSize = 1024

// Conn is one end of a framed duplex connection.
//
// A Conn is not safe for concurrent use. Callers serialize Send, Receive
// and Ready per connection, or dedicate one goroutine to it.
type Conn struct {
	fd     int
	logger Logger
	opts   options

	buf   bytes.Buffer // undecoded bytes, consumed from the head
	chunk []byte

	pending    []byte
	hasPending bool // pending may legitimately be an empty message

	eof     bool  // no further bytes will arrive
	readErr error // transport error that caused eof, nil for an orderly close
	failed  error // sticky, set once nothing is left to decode

	closed atomic.Bool
}

// NewConn wraps an open stream socket descriptor. The Conn takes ownership
// of fd and releases it on Close.
func NewConn(fd int, opt ...Option) (*Conn, error) {
	if fd < 0 {
		return nil, ErrInvalidDescriptor
	}
	return newConnWithOptions(fd, buildOptions(opt)), nil
}

// Pair returns both ends of a freshly created Unix domain stream socket pair.
func Pair(opt ...Option) (*Conn, *Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "socketpair")
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	opts := buildOptions(opt)
	return newConnWithOptions(fds[0], opts), newConnWithOptions(fds[1], opts), nil
}

func newConnWithOptions(fd int, opts options) *Conn {
	return &Conn{
		fd:     fd,
		logger: opts.logger,
		opts:   opts,
		chunk:  make([]byte, opts.readChunkSize),
	}
}

// Fd returns the underlying socket descriptor.
func (c *Conn) Fd() int {
	return c.fd
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Buffered returns the number of received bytes not yet decoded into a message.
func (c *Conn) Buffered() int {
	return c.buf.Len()
}

// Send writes data as a single frame. It returns once the header and the
// whole payload have been handed to the socket, resuming after short writes.
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	var header [maxHeaderDigits + 1]byte
	if err := c.writeFull(appendHeader(header[:0], len(data))); err != nil {
		return err
	}
	return c.writeFull(data)
}

func (c *Conn) writeFull(p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			// descriptor is in non-blocking mode, e.g. inherited from net
			if err := c.wait(unix.POLLOUT); err != nil {
				return err
			}
			continue
		case err != nil:
			return errors.Wrap(err, "write")
		}
		p = p[n:]
	}
	return nil
}

// Receive returns the next message, blocking until one has fully arrived.
// There is no timeout. Once the peer has closed and every buffered frame
// has been returned, Receive reports ErrPeerClosed.
func (c *Conn) Receive() ([]byte, error) {
	for {
		ready, err := c.Ready()
		if err != nil {
			return nil, err
		}

		if ready {
			msg := c.pending
			c.pending, c.hasPending = nil, false
			return msg, nil
		}

		if err := c.wait(unix.POLLIN); err != nil {
			c.failed = err
			return nil, err
		}
	}
}

// Ready reports whether a message can be received without blocking.
//
// It drains every byte currently available on the socket into the read
// buffer and decodes at most one frame if no message is pending. Calling it
// again without new data changes nothing. A terminal read condition is
// returned as an error, after any complete frames still buffered.
func (c *Conn) Ready() (bool, error) {
	if c.closed.Load() {
		return false, ErrConnectionClosed
	}
	if c.failed != nil {
		return false, c.failed
	}

	if !c.eof {
		c.drain()
	}

	if !c.hasPending {
		if err := c.decode(); err != nil {
			c.failed = err
			return false, err
		}
	}

	if c.hasPending {
		return true, nil
	}

	if c.eof {
		c.failed = c.closeReason()
		return false, c.failed
	}
	return false, nil
}

// drain moves all currently available bytes from the socket into the buffer.
func (c *Conn) drain() {
	for {
		n, _, err := unix.Recvfrom(c.fd, c.chunk, unix.MSG_DONTWAIT)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		case err != nil:
			c.eof = true
			c.readErr = errors.Wrap(err, "recv")
			c.logger.Debug("read error", "fd", c.fd, "error", err)
			return
		case n == 0:
			c.eof = true
			c.logger.Debug("peer closed connection", "fd", c.fd, "buffered", c.buf.Len())
			return
		}
		c.buf.Write(c.chunk[:n])
	}
}

// decode extracts one frame from the buffer head into the pending slot.
func (c *Conn) decode() error {
	payload, n, ok, err := decodeFrame(c.buf.Bytes(), c.opts.maxMessageSize)
	if err != nil {
		c.logger.Warn("protocol violation", "fd", c.fd, "error", err)
		return err
	}
	if !ok {
		return nil
	}

	c.buf.Next(n)
	c.pending, c.hasPending = payload, true
	return nil
}

func (c *Conn) closeReason() error {
	if c.readErr != nil {
		return c.readErr
	}
	if n := c.buf.Len(); n > 0 {
		return errors.Wrapf(ErrPeerClosed, "%d bytes of an incomplete frame", n)
	}
	return ErrPeerClosed
}

func (c *Conn) wait(events int16) error {
	return pollWait([]unix.PollFd{{Fd: int32(c.fd), Events: events}})
}

// Close releases the socket. Closing twice returns ErrConnectionClosed.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return ErrConnectionClosed
	}

	c.pending, c.hasPending = nil, false
	c.buf.Reset()

	if err := unix.Close(c.fd); err != nil {
		return errors.Wrap(err, "close")
	}
	return nil
}
