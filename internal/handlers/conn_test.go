package handlers

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn. Frames the server writes land in out;
// frames the test pushes through in are read by the server.
type fakeConn struct {
	in       chan []byte
	out      chan []byte
	peerGone chan struct{}
	closedCh chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
	hangOnce  sync.Once
	closeCode int
	writeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 16),
		out:      make(chan []byte, 256),
		peerGone: make(chan struct{}),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.peerGone:
		return 0, nil, &fws.CloseError{Code: fws.CloseNormalClosure}
	case <-c.closedCh:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-c.closedCh:
		return net.ErrClosed
	case c.out <- data:
		return nil
	}
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCode = int(binary.BigEndian.Uint16(data))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closedCh) })
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) hangUp() {
	c.hangOnce.Do(func() { close(c.peerGone) })
}

func (c *fakeConn) send(t *testing.T, frame any) {
	t.Helper()
	var data []byte
	switch f := frame.(type) {
	case string:
		data = []byte(f)
	default:
		var err error
		data, err = json.Marshal(f)
		require.NoError(t, err)
	}
	c.in <- data
}

// next returns the next frame the server wrote, decoded.
func (c *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-c.out:
		var v map[string]any
		require.NoError(t, json.Unmarshal(data, &v))
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func (c *fakeConn) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

var _ Conn = (*fakeConn)(nil)
