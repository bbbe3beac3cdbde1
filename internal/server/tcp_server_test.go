package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buoy-svr/internal/dispatcher"
	"buoy-svr/internal/link"
	"buoy-svr/internal/pipeline"
	"buoy-svr/internal/utilities"
)

var sample = []byte{1, 22, 50, 60, 25, 10, 0, 3, 2, 4, 30, 10, 100, 0, 50, 0, 10, 0}

type recordingSink struct {
	mu   sync.Mutex
	seen []*pipeline.Reading
}

func (s *recordingSink) Name() string { return "recorder" }

func (s *recordingSink) Handle(_ context.Context, r *pipeline.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, r)
	return nil
}

func (s *recordingSink) readings() []*pipeline.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pipeline.Reading(nil), s.seen...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts Options) (*TcpServer, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	d := dispatcher.New(discard())
	d.Register(sink)
	return New(d, discard(), opts), sink
}

// serve runs HandleConnection on one end of a pipe and returns the client end.
func serve(t *testing.T, srv *TcpServer) (net.Conn, <-chan struct{}) {
	t.Helper()
	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.HandleConnection(context.Background(), conn)
		close(done)
	}()
	t.Cleanup(func() { _ = client.Close() })
	return client, done
}

func handshake(t *testing.T, c net.Conn, id string) {
	t.Helper()
	_, err := c.Write(append([]byte{0x00, byte(len(id))}, id...))
	require.NoError(t, err)
	ack := make([]byte, 1)
	_, err = io.ReadFull(c, ack)
	require.NoError(t, err)
	require.Equal(t, byte(0x01), ack[0])
}

func readAck(t *testing.T, c net.Conn) uint32 {
	t.Helper()
	var b [4]byte
	_, err := io.ReadFull(c, b[:])
	require.NoError(t, err)
	return binary.BigEndian.Uint32(b[:])
}

func TestHandshakeAndSplitFrames(t *testing.T) {
	var connected []link.DeviceInfo
	srv, sink := newTestServer(t, Options{
		OnConnect: func(info link.DeviceInfo) { connected = append(connected, info) },
	})
	c, done := serve(t, srv)

	handshake(t, c, "buoy-7")
	assert.Equal(t, []string{"buoy-7"}, srv.ActiveDevices())
	require.Len(t, connected, 1)
	assert.Equal(t, "buoy-7", connected[0].DeviceID)
	assert.Equal(t, pipeline.SourceTCP, connected[0].Source)

	_, err := c.Write(sample[:10])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), readAck(t, c))

	_, err = c.Write(append(append([]byte{}, sample[10:]...), sample...))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), readAck(t, c))

	require.NoError(t, c.Close())
	<-done

	got := sink.readings()
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "buoy-7", r.DeviceID)
		assert.Equal(t, pipeline.SourceTCP, r.Source)
		assert.Equal(t, 22.5, r.Temperature)
		assert.Equal(t, 100, r.SignificantWaveHeight)
	}
	assert.Empty(t, srv.ActiveDevices())
}

func TestBytesBeforeHandshakeDropped(t *testing.T) {
	srv, sink := newTestServer(t, Options{})
	c, done := serve(t, srv)

	_, err := c.Write(sample)
	require.NoError(t, err)

	handshake(t, c, "b1")
	_, err = c.Write(sample)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), readAck(t, c))

	require.NoError(t, c.Close())
	<-done
	assert.Len(t, sink.readings(), 1)
}

func TestFramesInHandshakePacket(t *testing.T) {
	srv, sink := newTestServer(t, Options{})
	c, done := serve(t, srv)

	_, err := c.Write(append([]byte{0x00, 2, 'b', '2'}, sample...))
	require.NoError(t, err)
	ack := make([]byte, 1)
	_, err = io.ReadFull(c, ack)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), readAck(t, c))

	require.NoError(t, c.Close())
	<-done
	require.Len(t, sink.readings(), 1)
	assert.Equal(t, "b2", sink.readings()[0].DeviceID)
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	srv, _ := newTestServer(t, Options{IdleTimeout: 50 * time.Millisecond})
	c, done := serve(t, srv)
	handshake(t, c, "b1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after idle timeout")
	}
}

func TestFrameLogRecordsFrames(t *testing.T) {
	dir := t.TempDir()
	fl, err := utilities.NewFrameLog(dir)
	require.NoError(t, err)
	srv, _ := newTestServer(t, Options{FrameLog: fl})
	c, done := serve(t, srv)

	handshake(t, c, "b1")
	_, err = c.Write(sample)
	require.NoError(t, err)
	readAck(t, c)
	require.NoError(t, c.Close())
	<-done

	b, err := os.ReadFile(fl.Path(time.Now()))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(b), " - b1 0116323c190a000302041e0a640032000a00\n"))
	assert.Equal(t, dir, filepath.Dir(fl.Path(time.Now())))
}

func TestScanHandshake(t *testing.T) {
	id, rest, skipped, ok := scanHandshake([]byte{0x00, 3, 'a', 'b', 'c', 9})
	require.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, []byte{9}, rest)
	assert.Equal(t, 0, skipped)

	// junk before the handshake is skipped
	id, _, skipped, ok = scanHandshake([]byte{0x07, 0x01, 0x00, 2, 'b', '1'})
	require.True(t, ok)
	assert.Equal(t, "b1", id)
	assert.Equal(t, 2, skipped)

	// a zero inside the id region cannot be a handshake, resync on it
	id, _, skipped, ok = scanHandshake([]byte{0x00, 5, 0x00, 1, 'x'})
	require.True(t, ok)
	assert.Equal(t, "x", id)
	assert.Equal(t, 2, skipped)

	_, _, skipped, ok = scanHandshake([]byte{0x00})
	assert.False(t, ok)
	assert.Equal(t, 0, skipped)

	_, _, skipped, ok = scanHandshake([]byte{0x00, 5, 'a'})
	assert.False(t, ok)
	assert.Equal(t, 0, skipped)

	_, _, skipped, ok = scanHandshake([]byte{0x01, 0x02, 0x03})
	assert.False(t, ok)
	assert.Equal(t, 3, skipped)

	// the second zero may still open a handshake
	_, _, skipped, ok = scanHandshake([]byte{0x00, 0})
	assert.False(t, ok)
	assert.Equal(t, 1, skipped)
}

func TestScanHandshakeTailIsBounded(t *testing.T) {
	buf := append([]byte{0x00, 255}, bytes.Repeat([]byte{'a'}, 254)...)
	buf = append(bytes.Repeat([]byte{0xff}, 1000), buf...)
	_, _, skipped, ok := scanHandshake(buf)
	require.False(t, ok)
	assert.LessOrEqual(t, len(buf)-skipped, maxHandshake)
}

func TestSplitHandshake(t *testing.T) {
	srv, sink := newTestServer(t, Options{})
	c, done := serve(t, srv)

	_, err := c.Write([]byte{0x00})
	require.NoError(t, err)
	_, err = c.Write([]byte{3, 'a', 'b'})
	require.NoError(t, err)
	_, err = c.Write([]byte{'c'})
	require.NoError(t, err)

	ack := make([]byte, 1)
	_, err = io.ReadFull(c, ack)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), ack[0])
	assert.Equal(t, []string{"abc"}, srv.ActiveDevices())

	_, err = c.Write(sample)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), readAck(t, c))

	require.NoError(t, c.Close())
	<-done
	require.Len(t, sink.readings(), 1)
	assert.Equal(t, "abc", sink.readings()[0].DeviceID)
}

func TestJunkThenHandshakeInOneRead(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	c, done := serve(t, srv)

	_, err := c.Write([]byte{0x42, 0x17, 0x00, 2, 'b', '9'})
	require.NoError(t, err)
	ack := make([]byte, 1)
	_, err = io.ReadFull(c, ack)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), ack[0])
	assert.Equal(t, []string{"b9"}, srv.ActiveDevices())

	require.NoError(t, c.Close())
	<-done
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
