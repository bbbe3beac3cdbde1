package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"buoy-svr/internal/codec"
	"buoy-svr/internal/dispatcher"
	"buoy-svr/internal/link"
	"buoy-svr/internal/observability"
	"buoy-svr/internal/pipeline"
	"buoy-svr/internal/utilities"
)

const (
	readBufSize    = 2048
	handshakeMagic = 0x00
	handshakeAck   = 0x01
	maxHandshake   = 2 + 255
)

// Processor decodes one frame and fans it out; *dispatcher.Dispatcher is the
// production implementation.
type Processor interface {
	ProcessIncoming(ctx context.Context, in dispatcher.Incoming) (*pipeline.Reading, error)
}

// Options tunes connection handling. All fields are optional.
type Options struct {
	IdleTimeout time.Duration // 0 disables
	FrameLog    *utilities.FrameLog
	OnConnect   func(link.DeviceInfo)
}

// TcpServer accepts buoy connections and turns their byte streams into frames.
type TcpServer struct {
	proc   Processor
	logger *slog.Logger
	opts   Options

	mu     sync.Mutex
	active map[string]net.Conn
}

func New(proc Processor, lg *slog.Logger, opts Options) *TcpServer {
	return &TcpServer{
		proc:   proc,
		logger: lg.With("component", "tcp"),
		opts:   opts,
		active: make(map[string]net.Conn),
	}
}

func (srv *TcpServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting TCP server: %w", err)
	}
	srv.logger.Info("TCP server listening", "addr", ln.Addr().String())
	return srv.Serve(ctx, ln)
}

// Serve accepts connections until ctx is cancelled or ln is closed.
func (srv *TcpServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			srv.logger.Error("accept error", "err", err)
			continue
		}
		observability.TCPConnections.Inc()
		go srv.HandleConnection(ctx, conn)
	}
}

// ActiveDevices lists the device ids with an open, handshaken connection.
func (srv *TcpServer) ActiveDevices() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]string, 0, len(srv.active))
	for id := range srv.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (srv *TcpServer) register(id string, conn net.Conn) {
	srv.mu.Lock()
	prev := srv.active[id]
	srv.active[id] = conn
	srv.mu.Unlock()
	if prev != nil && prev != conn {
		srv.logger.Warn("device reconnected, closing previous connection", "device", id)
		_ = prev.Close()
	}
}

func (srv *TcpServer) unregister(id string, conn net.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.active[id] == conn {
		delete(srv.active, id)
	}
}

// HandleConnection serves one device until it disconnects, idles out or ctx ends.
func (srv *TcpServer) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var deviceID string
	defer func() {
		if deviceID != "" {
			srv.unregister(deviceID, conn)
			srv.logger.Info("device disconnected", "device", deviceID)
		}
	}()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	buffer := make([]byte, readBufSize)
	var pending []byte
	for {
		if srv.opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(srv.opts.IdleTimeout))
		}
		n, err := conn.Read(buffer)
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				srv.logger.Info("idle timeout", "device", deviceID, "remote", conn.RemoteAddr().String())
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
			default:
				srv.logger.Error("read error", "device", deviceID, "err", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		data := buffer[:n]

		if deviceID == "" {
			pending = append(pending, data...)
			id, rest, skipped, ok := scanHandshake(pending)
			if skipped > 0 {
				srv.logger.Warn("bytes received before handshake dropped", "bytes", skipped, "remote", conn.RemoteAddr().String())
			}
			if !ok {
				pending = append([]byte(nil), pending[skipped:]...)
				continue
			}
			data = append([]byte(nil), rest...)
			pending = nil

			deviceID = id
			srv.register(id, conn)
			observability.HandshakeOK.Inc()
			srv.logger.Info("handshake", "device", id, "remote", conn.RemoteAddr().String())
			if srv.opts.OnConnect != nil {
				srv.opts.OnConnect(deviceInfo(id, conn.RemoteAddr()))
			}
			if _, err := conn.Write([]byte{handshakeAck}); err != nil {
				srv.logger.Error("handshake ack failed", "device", id, "err", err)
				return
			}
			if len(data) == 0 {
				continue
			}
		}

		pending = append(pending, data...)
		var decoded uint32
		decoded, pending = srv.drainFrames(ctx, deviceID, pending)

		var ack [4]byte
		binary.BigEndian.PutUint32(ack[:], decoded)
		if _, err := conn.Write(ack[:]); err != nil {
			srv.logger.Error("ack write failed", "device", deviceID, "err", err)
			return
		}
	}
}

// drainFrames processes every complete frame in buf and returns how many
// decoded along with the unconsumed tail.
func (srv *TcpServer) drainFrames(ctx context.Context, deviceID string, buf []byte) (uint32, []byte) {
	var decoded uint32
	for len(buf) >= codec.FrameSize {
		frame := make([]byte, codec.FrameSize)
		copy(frame, buf[:codec.FrameSize])
		buf = buf[codec.FrameSize:]

		if srv.opts.FrameLog != nil {
			if err := srv.opts.FrameLog.Write(deviceID, frame); err != nil {
				srv.logger.Warn("frame log write failed", "err", err)
			}
		}

		_, err := srv.proc.ProcessIncoming(ctx, dispatcher.Incoming{
			DeviceID: deviceID,
			Source:   pipeline.SourceTCP,
			Data:     frame,
		})
		if errors.Is(err, codec.ErrMalformedFrame) {
			continue
		}
		decoded++
	}
	return decoded, append([]byte(nil), buf...)
}

// scanHandshake looks for 0x00, n, followed by n printable ASCII bytes of
// device id, resyncing on every 0x00 in buf. skipped counts the leading bytes
// that can no longer start a handshake; when ok is false the caller keeps
// buf[skipped:] and retries with more data. That tail never exceeds
// maxHandshake bytes. Bytes after the id start the frame stream.
func scanHandshake(buf []byte) (id string, rest []byte, skipped int, ok bool) {
	for {
		i := bytes.IndexByte(buf[skipped:], handshakeMagic)
		if i < 0 {
			return "", nil, len(buf), false
		}
		skipped += i
		hs := buf[skipped:]
		if len(hs) < 2 {
			return "", nil, skipped, false
		}
		n := int(hs[1])
		end := 2 + n
		if end > len(hs) {
			end = len(hs)
		}
		if n == 0 || !printable(hs[2:end]) {
			skipped++
			continue
		}
		if len(hs) < 2+n {
			return "", nil, skipped, false
		}
		return string(hs[2 : 2+n]), hs[2+n:], skipped, true
	}
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func deviceInfo(id string, addr net.Addr) link.DeviceInfo {
	info := link.DeviceInfo{DeviceID: id, Source: pipeline.SourceTCP}
	if addr == nil {
		return info
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		info.RemoteIP = addr.String()
		return info
	}
	info.RemoteIP = host
	info.RemotePort, _ = strconv.Atoi(port)
	return info
}
