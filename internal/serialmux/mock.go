package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// LineGenerator produces the link lines for one tick of a simulated boat.
type LineGenerator func() []string

// MockSerialPort implements SerialPorter for a simulated boat. Reads return
// generated lines; writes are captured.
type MockSerialPort struct {
	io.Reader
	pw *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	partial []byte
	onLine  func(string)
	done    chan struct{}
	once    sync.Once
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	n, err = m.written.Write(p)
	var lines []string
	if m.onLine != nil {
		m.partial = append(m.partial, p...)
		for {
			i := bytes.IndexByte(m.partial, '\n')
			if i < 0 {
				break
			}
			lines = append(lines, string(m.partial[:i]))
			m.partial = m.partial[i+1:]
		}
	}
	onLine := m.onLine
	m.mu.Unlock()

	for _, l := range lines {
		onLine(l)
	}
	return n, err
}

// Written returns everything the ground station has sent to the boat.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	m.once.Do(func() { close(m.done) })
	return m.pw.Close()
}

// NewMockSerialMux creates a SerialMux backed by a simulated boat that emits
// gen's lines every interval.
func NewMockSerialMux(gen LineGenerator, interval time.Duration) *SerialMux[*MockSerialPort] {
	return newMockSerialMux(gen, nil, interval)
}

// Simulator is a boat model that both talks and listens.
type Simulator interface {
	// Lines advances the model one tick and returns what the boat sends.
	Lines() []string
	// Receive handles one line written by the ground station.
	Receive(line string)
}

// NewSimulatedSerialMux wires sim to both directions of a mock link.
func NewSimulatedSerialMux(sim Simulator, interval time.Duration) *SerialMux[*MockSerialPort] {
	return newMockSerialMux(sim.Lines, sim.Receive, interval)
}

func newMockSerialMux(gen LineGenerator, onLine func(string), interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	port := &MockSerialPort{Reader: r, pw: w, onLine: onLine, done: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-port.done:
				return
			case <-ticker.C:
				lines := gen()
				if len(lines) == 0 {
					continue
				}
				if _, err := io.WriteString(w, strings.Join(lines, "\n")+"\n"); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(port)
}

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added or Close is called.
	// Once closed an empty port reads io.EOF.
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally simulating errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, io.EOF
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, err = t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.String()
}
