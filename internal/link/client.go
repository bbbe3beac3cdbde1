package link

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"buoy-svr/internal/pipeline"
)

const (
	dialRetry      = 5 * time.Second
	reconnectDelay = 2 * time.Second
	writeTimeout   = 2 * time.Second
)

// Link streams device events and readings to a TCP proxy as NDJSON.
type Link struct {
	addr         string
	logger       *slog.Logger
	writeTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func New(addr string, lg *slog.Logger) *Link {
	return &Link{addr: addr, logger: lg.With("component", "link"), writeTimeout: writeTimeout}
}

// Run keeps the connection up until ctx is cancelled.
func (l *Link) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		if l.conn != nil {
			_ = l.conn.Close()
		}
		l.mu.Unlock()
	}()

	var d net.Dialer
	for {
		c, err := d.DialContext(ctx, "tcp", l.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("link: dial failed", "addr", l.addr, "err", err)
			if !sleep(ctx, dialRetry) {
				return nil
			}
			continue
		}

		l.setConn(c)
		if ctx.Err() != nil {
			l.clearConn(c)
			return nil
		}
		l.logger.Info("link: connected", "remote", c.RemoteAddr().String())

		l.readLoop(c)

		l.clearConn(c)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("link: connection closed, reconnecting")
		if !sleep(ctx, reconnectDelay) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (l *Link) setConn(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = c
}

func (l *Link) clearConn(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == c {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// The proxy does not send commands yet; incoming lines are only logged.
func (l *Link) readLoop(c net.Conn) {
	r := bufio.NewScanner(c)
	for r.Scan() {
		l.logger.Info("link: incoming line", "line", r.Text())
	}
	if err := r.Err(); err != nil && err != io.EOF {
		l.logger.Warn("link: read error", "err", err)
	}
}

func (l *Link) sendNDJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return fmt.Errorf("link: not connected")
	}
	// a proxy that stops reading must not stall the dispatcher
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	if _, err := l.conn.Write(append(b, '\n')); err != nil {
		l.logger.Warn("link: write failed, dropping connection", "err", err)
		_ = l.conn.Close()
		l.conn = nil
		return fmt.Errorf("link: write: %w", err)
	}
	return nil
}

type deviceConnectPayload struct {
	DeviceConnect bool   `json:"device_connect"`
	DeviceID      string `json:"device_id"`
	Source        string `json:"source,omitempty"`
	RemoteIP      string `json:"remote_ip,omitempty"`
	RemotePort    int    `json:"remote_port,omitempty"`
}

// SendDeviceConnect announces a device after its TCP handshake.
func (l *Link) SendDeviceConnect(info DeviceInfo) {
	pl := deviceConnectPayload{
		DeviceConnect: true,
		DeviceID:      info.DeviceID,
		Source:        info.Source,
		RemoteIP:      info.RemoteIP,
		RemotePort:    info.RemotePort,
	}
	if err := l.sendNDJSON(pl); err != nil {
		l.logger.Warn("link: send device_connect failed", "device", info.DeviceID, "err", err)
	}
}

func (l *Link) Name() string { return "link" }

func (l *Link) Handle(_ context.Context, r *pipeline.Reading) error {
	return l.sendNDJSON(r)
}
