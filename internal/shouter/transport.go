package shouter

import (
	"errors"
	"fmt"
	"time"

	"github.com/Brosax/ChipShouter/internal/serialmux"
)

// SerialTransport speaks the generator's line protocol over a serial link.
// Each exchange drains stale input, writes one command, and waits for one
// acknowledgement line.
type SerialTransport struct {
	link *serialmux.Link
}

// NewSerialTransport wraps an already-open link.
func NewSerialTransport(link *serialmux.Link) *SerialTransport {
	return &SerialTransport{link: link}
}

// Exec implements Transport.
func (t *SerialTransport) Exec(command string, timeout time.Duration) (string, error) {
	t.link.Drain()
	if err := t.link.Send(command); err != nil {
		return "", err
	}
	line, err := t.link.ReadLine(timeout)
	if err != nil {
		if errors.Is(err, serialmux.ErrReadTimeout) {
			return "", fmt.Errorf("%w: %q", ErrCommandTimeout, command)
		}
		return "", err
	}
	return line, nil
}

// Close closes the underlying link.
func (t *SerialTransport) Close() error {
	return t.link.Close()
}
