// Package ptysink mirrors display output onto a pseudo-terminal so an
// external process can attach to the slave device and follow a watch
// session live. Delivery is non-blocking: lines are staged in a ring
// buffer and a background goroutine drains it to the PTY master, dropping
// the oldest bytes when the reader falls behind.
package ptysink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/gattwatch/internal/display"
	"github.com/srg/gattwatch/internal/groutine"
)

const (
	defaultCapacity = 64 * 1024
	pollTimeoutMs   = 50
)

// Sink owns a PTY pair and relays display messages to the master side.
type Sink struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	ttyName string

	buf    *ringbuffer.RingBuffer
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	dropped uint64
	written uint64
}

var _ display.Sink = (*Sink)(nil)

// New creates the PTY pair, puts the slave in raw mode, and starts the
// drain goroutine. capacity is the staging buffer size in bytes; zero
// selects a default.
func New(capacity int, logger *logrus.Logger) (*Sink, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = logrus.New()
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("ptysink: failed to create PTY pair: %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("ptysink: failed to set %s to raw mode: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("ptysink: failed to set master nonblocking: %w", err)
	}

	s := &Sink{
		logger:  logger,
		master:  master,
		slave:   slave,
		ttyName: slave.Name(),
		buf:     ringbuffer.New(capacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	groutine.Go(nil, "ptysink-drain", func(_ context.Context) {
		s.drainLoop()
	})

	return s, nil
}

// Deliver stages one rendered line for the PTY reader. Never blocks;
// bytes that do not fit are dropped and counted.
func (s *Sink) Deliver(m display.Message) {
	if s.closed.Load() {
		return
	}
	line := fmt.Sprintf("%c %s\r\n", m.Mode, m.Text)
	n, err := s.buf.Write([]byte(line))
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		s.logger.WithField("error", err).Warn("PTY sink buffer write failed")
		return
	}
	if n < len(line) {
		atomic.AddUint64(&s.dropped, uint64(len(line)-n))
	}
}

// TTYName returns the slave device path, e.g. "/dev/pts/5".
func (s *Sink) TTYName() string {
	return s.ttyName
}

// Dropped reports how many bytes were discarded due to buffer overflow.
func (s *Sink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Written reports how many bytes reached the PTY master.
func (s *Sink) Written() uint64 {
	return atomic.LoadUint64(&s.written)
}

// Close stops the drain goroutine and closes both PTY ends. Idempotent.
func (s *Sink) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		<-s.done
		if err := s.master.Close(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to close PTY master")
		}
		if err := s.slave.Close(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to close PTY slave")
		}
	})
	return nil
}

func (s *Sink) drainLoop() {
	defer close(s.done)

	fd := int32(s.master.Fd())
	pollFd := []unix.PollFd{{Fd: fd, Events: unix.POLLOUT}}
	chunk := make([]byte, 4096)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if s.buf.IsEmpty() {
			// Idle wait keeps the loop responsive to stop without spinning.
			if _, err := unix.Poll(pollFd, pollTimeoutMs); err != nil && !errors.Is(err, syscall.EINTR) {
				s.logger.WithField("error", err).Warn("PTY sink poll failed")
			}
			continue
		}

		n, err := s.buf.TryRead(chunk)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			s.logger.WithField("error", err).Warn("PTY sink buffer read failed")
			continue
		}
		if n == 0 {
			continue
		}

		offset := 0
		for offset < n {
			written, err := s.master.Write(chunk[offset:n])
			if written > 0 {
				offset += written
				atomic.AddUint64(&s.written, uint64(written))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
				if _, pollErr := unix.Poll(pollFd, pollTimeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
					s.logger.WithField("error", pollErr).Warn("PTY sink poll failed")
				}
			case errors.Is(err, syscall.EBADF):
				return
			default:
				s.logger.WithField("error", err).Warn("PTY sink write failed, exiting")
				return
			}
		}
	}
}
