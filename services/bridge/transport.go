package bridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"fvcontroller-go/services/config"
)

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(config.TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport adds or replaces a transport type.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg config.TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "serial":
		return &serialTransport{cfg: cfg.Serial}, nil
	case "ws":
		return &wsTransport{cfg: cfg.WS}, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// OpenTransport dials the link cfg describes.
func OpenTransport(ctx context.Context, cfg config.TransportConfig) (io.ReadWriteCloser, error) {
	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return t.Open(ctx)
}

// -----------------------------------------------------------------------------
// Serial
// -----------------------------------------------------------------------------

type serialTransport struct {
	cfg config.SerialConfig
}

func (t *serialTransport) String() string { return "serial " + t.cfg.Port }

func (t *serialTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	return OpenSerial(t.cfg)
}

// OpenSerial opens the RS485 adapter at 8N1.
func OpenSerial(cfg config.SerialConfig) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	rt := cfg.ReadTimeout
	if rt <= 0 {
		rt = time.Second
	}
	if err := port.SetReadTimeout(rt); err != nil {
		port.Close()
		return nil, err
	}
	return &serialConn{port: port}, nil
}

// serialConn turns the port's silent timeout (0, nil) into an error.
type serialConn struct {
	port serial.Port
}

func (s *serialConn) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		return 0, errNoReply
	}
	return n, err
}

func (s *serialConn) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialConn) Close() error                { return s.port.Close() }

// -----------------------------------------------------------------------------
// WebSocket
// -----------------------------------------------------------------------------

type wsTransport struct {
	cfg config.WSConfig
}

func (t *wsTransport) String() string { return "ws " + t.cfg.URL }

func (t *wsTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: t.cfg.InsecureSkipVerify}
	}
	headers := http.Header{}
	if t.cfg.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(t.cfg.Username + ":" + t.cfg.Password))
		headers.Set("Authorization", "Basic "+cred)
	}

	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, resp, err := dialer.DialContext(dctx, t.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return newWSConn(conn, t.cfg.ReadTimeout), nil
}

var errWSClosed = errors.New("websocket connection closed")

// wsConn presents websocket messages as a byte stream. A reader goroutine
// owns the socket, so a Read can give up after the timeout without
// breaking the connection.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
	msgs    chan []byte
	done    chan struct{} // reader stopped; err is set
	err     error
	stop    chan struct{}
	once    sync.Once
	buf     []byte
}

func newWSConn(conn *websocket.Conn, timeout time.Duration) *wsConn {
	if timeout <= 0 {
		timeout = time.Second
	}
	w := &wsConn{
		conn:    conn,
		timeout: timeout,
		msgs:    make(chan []byte, 8),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *wsConn) readLoop() {
	defer close(w.done)
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		select {
		case w.msgs <- data:
		case <-w.stop:
			w.err = errWSClosed
			return
		}
	}
}

func (w *wsConn) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}
	t := time.NewTimer(w.timeout)
	defer t.Stop()
	select {
	case data := <-w.msgs:
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-w.stop:
		return 0, errWSClosed
	case <-w.done:
		select {
		case <-w.stop:
			return 0, errWSClosed
		default:
		}
		return 0, w.err
	case <-t.C:
		return 0, errNoReply
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	err := errWSClosed
	w.once.Do(func() {
		close(w.stop)
		err = w.conn.Close()
	})
	return err
}
