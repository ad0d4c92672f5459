package serialmux

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Len(t, mux.subscribers, 2)

	mux.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open, "unsubscribed channel should be closed")
	assert.Len(t, mux.subscribers, 1)

	// unknown IDs are ignored
	mux.Unsubscribe("nope")
	assert.Len(t, mux.subscribers, 1)
}

func TestSerialMux_SendCommandFramesLine(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("f"))
	require.NoError(t, mux.SendCommand("send"))
	require.NoError(t, mux.SendCoords([]byte{0x01, 0xab}))

	assert.Equal(t, "cmd:f\ncmd:send\ncoords:01ab\n", port.GetWrittenData())
}

func TestSerialMux_WriteErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	boom := errors.New("boom")
	port.WriteError = boom
	assert.ErrorIs(t, mux.SendCommand("f"), boom)

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("f"), ErrWriteFailed)
}

func TestSerialMux_MonitorFansOut(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("debug:hello\nstatus:01000000\n"))
	mux := NewSerialMux(port)

	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	err := mux.Monitor(context.Background())
	require.NoError(t, err, "EOF ends monitoring cleanly")

	for _, ch := range []chan string{ch1, ch2} {
		assert.Equal(t, "debug:hello", <-ch)
		assert.Equal(t, "status:01000000", <-ch)
	}
}

func TestSerialMux_MonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	boom := errors.New("unplugged")
	port.ReadError = boom
	mux := NewSerialMux(port)

	assert.ErrorIs(t, mux.Monitor(context.Background()), boom)
}

func TestSerialMux_MonitorCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	_, ch := mux.Subscribe()
	port.AddReadData([]byte("debug:one\n"))
	select {
	case line := <-ch:
		assert.Equal(t, "debug:one", line)
	case <-time.After(2 * time.Second):
		t.Fatal("line not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	require.NoError(t, mux.Close())
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.True(t, port.Closed)
	assert.Empty(t, mux.subscribers)
}

func TestMockSerialMux_EmitsGeneratedLines(t *testing.T) {
	n := 0
	mux := NewMockSerialMux(func() []string {
		n++
		return []string{"debug:tick"}
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ch := mux.Subscribe()
	go mux.Monitor(ctx)

	select {
	case line := <-ch:
		assert.Equal(t, "debug:tick", line)
	case <-time.After(2 * time.Second):
		t.Fatal("mock boat produced nothing")
	}

	require.NoError(t, mux.SendCommand("h"))
	assert.Equal(t, "cmd:h\n", mux.port.Written())
	cancel()
	require.NoError(t, mux.Close())
}

type echoSim struct {
	mu       sync.Mutex
	received []string
}

func (e *echoSim) Lines() []string { return []string{"debug:alive"} }

func (e *echoSim) Receive(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.received = append(e.received, line)
}

func (e *echoSim) got() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.received...)
}

func TestSimulatedSerialMux_DeliversWrites(t *testing.T) {
	sim := &echoSim{}
	mux := NewSimulatedSerialMux(sim, 5*time.Millisecond)
	defer mux.Close()

	require.NoError(t, mux.SendCommand("f"))
	require.NoError(t, mux.SendCoords([]byte{0x01, 0xff}))
	assert.Equal(t, []string{"cmd:f", "coords:01ff"}, sim.got())

	// Partial writes are held until the newline arrives.
	_, err := mux.port.Write([]byte("cmd:"))
	require.NoError(t, err)
	assert.Len(t, sim.got(), 2)
	_, err = mux.port.Write([]byte("h\n"))
	require.NoError(t, err)
	assert.Equal(t, "cmd:h", sim.got()[2])
}
