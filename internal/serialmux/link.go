package serialmux

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Brosax/ChipShouter/internal/monitoring"
)

var (
	// ErrReadTimeout is returned by ReadLine when no line arrives in time.
	ErrReadTimeout = errors.New("serialmux: read timed out")

	// ErrLinkClosed is returned once the underlying port has stopped
	// producing data, either because it was closed or because it failed.
	ErrLinkClosed = errors.New("serialmux: link closed")

	// ErrBusy is returned by Acquire when another owner holds the link.
	ErrBusy = errors.New("serialmux: link already acquired")

	// ErrWriteFailed indicates a short write to the port.
	ErrWriteFailed = errors.New("serialmux: short write to serial port")
)

// lineBuffer is the number of inbound lines buffered between the reader
// goroutine and ReadLine. Chatty boot banners fit comfortably; anything
// beyond it is dropped with a log notice, matching how the subscriber fanout
// behaved in earlier revisions.
const lineBuffer = 256

// Link wraps a serial port with a dedicated reader goroutine and exposes the
// blocking-with-timeout, one-command-at-a-time access model the campaign
// relies on. A Link is safe for concurrent use, but the intended discipline
// is a single owner obtained through Acquire.
type Link struct {
	name string
	port SerialPorter

	writeMu sync.Mutex

	lines chan string
	done  chan struct{}

	mu      sync.Mutex
	owned   bool
	readErr error
}

// NewLink starts monitoring the given port and returns the wrapped link.
// The name is used only for log and error messages.
func NewLink(name string, port SerialPorter) *Link {
	l := &Link{
		name:  name,
		port:  port,
		lines: make(chan string, lineBuffer),
		done:  make(chan struct{}),
	}
	go l.monitor()
	return l
}

// Name returns the label the link was created with.
func (l *Link) Name() string { return l.name }

// monitor reads lines from the port until it fails or is closed. The blocking
// scanner lives on its own goroutine so ReadLine can time out independently.
func (l *Link) monitor() {
	defer close(l.done)

	scan := bufio.NewScanner(l.port)
	for scan.Scan() {
		select {
		case l.lines <- scan.Text():
		default:
			monitoring.Logf("serialmux[%s]: inbound buffer full, dropping line", l.name)
		}
	}

	err := scan.Err()
	if err == nil {
		err = io.EOF
	}
	l.mu.Lock()
	l.readErr = err
	l.mu.Unlock()
}

// Err returns the terminal read error once the link has stopped, or nil while
// it is still alive.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readErr
}

// ReadLine returns the next inbound line, waiting up to timeout. It returns
// ErrReadTimeout when nothing arrives in time and an error wrapping
// ErrLinkClosed once the port is gone. Buffered lines are still delivered
// after the port has failed.
func (l *Link) ReadLine(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-l.lines:
		return line, nil
	case <-l.done:
		// deliver anything the reader buffered before it stopped
		select {
		case line := <-l.lines:
			return line, nil
		default:
		}
		return "", fmt.Errorf("%w (%s): %v", ErrLinkClosed, l.name, l.Err())
	case <-timer.C:
		return "", ErrReadTimeout
	}
}

// Send writes a single command line to the port, appending CRLF when the
// caller did not terminate the command itself. Writes are serialized.
func (l *Link) Send(command string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if !strings.HasSuffix(command, "\n") {
		command += "\r\n"
	}
	n, err := l.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("write to %s: %w", l.name, err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Drain discards any buffered inbound lines and reports how many were
// dropped. Called before each command/response exchange so stale output from
// a previous exchange cannot be misread as the response.
func (l *Link) Drain() int {
	n := 0
	for {
		select {
		case <-l.lines:
			n++
		default:
			return n
		}
	}
}

// Acquire claims exclusive ownership of the link and returns a release
// function. The release function is idempotent. While held, a second Acquire
// fails with ErrBusy; this is how a running campaign keeps manual controls
// off the hardware.
func (l *Link) Acquire() (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owned {
		return nil, fmt.Errorf("%w: %s", ErrBusy, l.name)
	}
	l.owned = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.owned = false
			l.mu.Unlock()
		})
	}, nil
}

// Close closes the underlying port. The reader goroutine exits on the next
// failed read and ReadLine starts reporting ErrLinkClosed.
func (l *Link) Close() error {
	return l.port.Close()
}
