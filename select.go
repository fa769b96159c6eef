package msgsock

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrNoConnections is returned by Select when given nothing to wait on.
var ErrNoConnections = errors.New("no connections to select")

// Select blocks until at least one connection has a message ready and
// returns the indices of every ready connection, in ascending order.
//
// A connection that hit a terminal read error (peer closed, malformed
// frame) counts as ready: its next Receive returns that error at once.
// A closed or nil connection fails the whole call.
func Select(conns []*Conn) ([]int, error) {
	keys := make([]int, len(conns))
	for i := range conns {
		keys[i] = i
	}
	return selectReady(keys, conns)
}

// SelectMap is Select for connections keyed by an arbitrary comparable
// type. The returned keys are in no particular order.
func SelectMap[K comparable](conns map[K]*Conn) ([]K, error) {
	keys := make([]K, 0, len(conns))
	list := make([]*Conn, 0, len(conns))
	for k, c := range conns {
		keys = append(keys, k)
		list = append(list, c)
	}
	return selectReady(keys, list)
}

func selectReady[K comparable](keys []K, conns []*Conn) ([]K, error) {
	if len(conns) == 0 {
		return nil, ErrNoConnections
	}

	fds := make([]unix.PollFd, len(conns))
	for i, c := range conns {
		if c == nil {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "nil connection at %v", keys[i])
		}
		fds[i] = unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN}
	}

	for {
		var ready []K
		for i, c := range conns {
			ok, err := c.Ready()
			if errors.Is(err, ErrConnectionClosed) {
				return nil, errors.Wrapf(err, "select %v", keys[i])
			}
			if ok || err != nil {
				ready = append(ready, keys[i])
			}
		}
		if len(ready) > 0 {
			return ready, nil
		}

		// Readable at the OS level only means bytes arrived, not that a
		// whole frame did, so every wake-up goes back through Ready.
		if err := pollWait(fds); err != nil {
			return nil, err
		}
	}
}

// pollWait blocks until at least one descriptor reports one of its events.
func pollWait(fds []unix.PollFd) error {
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "poll")
		}

		for _, p := range fds {
			if p.Revents&unix.POLLNVAL != 0 {
				return errors.Wrapf(ErrInvalidDescriptor, "poll fd %d", p.Fd)
			}
		}
		return nil
	}
}
