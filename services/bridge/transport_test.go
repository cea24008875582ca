package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvcontroller-go/errcode"
	"fvcontroller-go/services/config"
)

// wsServer relays websocket lines to units the way a serial server would.
// With no units it swallows everything.
func wsServer(t *testing.T, units ...*unit) string {
	t.Helper()
	var up websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		var pending string
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			pending += string(data)
			for {
				line, rest, ok := strings.Cut(pending, "\n")
				if !ok {
					break
				}
				pending = rest
				for _, u := range units {
					var out bytes.Buffer
					u.h.Handle(line, &out)
					if out.Len() > 0 {
						c.WriteMessage(websocket.TextMessage, out.Bytes())
					}
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openWS(t *testing.T, url string, timeout time.Duration) io.ReadWriteCloser {
	t.Helper()
	tr, err := newTransport(config.TransportConfig{Type: "ws", WS: config.WSConfig{URL: url, ReadTimeout: timeout}})
	require.NoError(t, err)
	rwc, err := tr.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { rwc.Close() })
	return rwc
}

func TestWSSilentBusTimesOut(t *testing.T) {
	l := NewLink(openWS(t, wsServer(t), 50*time.Millisecond))

	start := time.Now()
	_, err := l.Read("fv1", "t0")
	require.Error(t, err)
	var e *errcode.E
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errcode.Timeout, e.C)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, IsLinkError(err))
}

func TestWSLinkSurvivesTimeout(t *testing.T) {
	l := NewLink(openWS(t, wsServer(t, newUnit(t, "fv1")), 50*time.Millisecond))

	_, err := l.Read("fv9", "t0")
	var e *errcode.E
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errcode.Timeout, e.C)

	v, err := l.Read("fv1", "t0")
	require.NoError(t, err)
	assert.Equal(t, "19.2500", v)
}

func TestWSCloseEndsPendingRead(t *testing.T) {
	rwc := openWS(t, wsServer(t), time.Minute)

	got := make(chan error, 1)
	go func() {
		_, err := rwc.Read(make([]byte, 16))
		got <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, rwc.Close())

	select {
	case err := <-got:
		assert.True(t, errors.Is(err, errWSClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("read still blocked after close")
	}
}

func TestOpenTransportRejects(t *testing.T) {
	_, err := OpenTransport(context.Background(), config.TransportConfig{Type: "bogus"})
	assert.ErrorContains(t, err, "unknown transport")

	_, err = OpenTransport(context.Background(), config.TransportConfig{Type: "ws", WS: config.WSConfig{URL: "http://example"}})
	assert.ErrorContains(t, err, "unsupported URL scheme")
}
