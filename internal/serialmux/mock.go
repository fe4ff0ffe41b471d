package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// ScriptedPort implements SerialPorter for tests. Reads block until a test
// pushes lines with PushLine or the port is closed, mimicking a quiet serial
// device, and all writes are captured for inspection.
type ScriptedPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteErr is returned by the next Write call if set.
	WriteErr error

	// WriteDelay adds latency to each Write call.
	WriteDelay time.Duration

	closed bool
}

// NewScriptedPort returns an empty ScriptedPort.
func NewScriptedPort() *ScriptedPort {
	p := &ScriptedPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// PushLine queues one line (CRLF-terminated) for delivery to readers.
func (p *ScriptedPort) PushLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.WriteString(line)
	p.readBuf.WriteString("\r\n")
	p.readCond.Broadcast()
}

// PushRaw queues raw bytes without any line termination.
func (p *ScriptedPort) PushRaw(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.readCond.Broadcast()
}

func (p *ScriptedPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.readBuf.Len() > 0 {
		return p.readBuf.Read(buf)
	}
	return 0, io.EOF
}

func (p *ScriptedPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("scripted port closed")
	}
	if p.WriteErr != nil {
		err := p.WriteErr
		p.WriteErr = nil
		p.mu.Unlock()
		return 0, err
	}
	delay := p.WriteDelay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.Write(data)
}

// Close marks the port closed and wakes any blocked readers.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// Written returns everything written to the port so far.
func (p *ScriptedPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.String()
}

// WrittenLines splits the captured writes into individual commands.
func (p *ScriptedPort) WrittenLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, l := range bytes.Split(p.writeBuf.Bytes(), []byte("\r\n")) {
		if len(l) > 0 {
			out = append(out, string(l))
		}
	}
	return out
}
