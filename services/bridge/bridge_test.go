package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvcontroller-go/bus"
	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/services/config"
	"fvcontroller-go/types"
)

type published struct {
	retained bool
	payload  string
}

type fakeBroker struct {
	mu     sync.Mutex
	last   map[string]published
	count  map[string]int
	subs   map[string]func(string, []byte)
	closed bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		last:  map[string]published{},
		count: map[string]int{},
		subs:  map[string]func(string, []byte){},
	}
}

func (f *fakeBroker) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[topic] = published{retained, string(payload)}
	f.count[topic]++
	return nil
}

func (f *fakeBroker) Subscribe(topic string, fn func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = fn
	return nil
}

func (f *fakeBroker) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeBroker) get(topic string) (published, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[topic], f.count[topic]
}

func (f *fakeBroker) deliver(filter, topic, payload string) {
	f.mu.Lock()
	fn := f.subs[filter]
	f.mu.Unlock()
	fn(topic, []byte(payload))
}

// waitPublished waits until topic carries want.
func (f *fakeBroker) waitPublished(t *testing.T, topic, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, _ := f.get(topic)
		return p.payload == want
	}, 3*time.Second, 5*time.Millisecond, "%s never became %q", topic, want)
}

func dialerFor(b *fakeBroker) BrokerDialer {
	return func(config.MQTTConfig, string, string) (Broker, error) { return b, nil }
}

// pipeTransport registers a transport that connects to md and records the
// device end of each connection.
func pipeTransport(t *testing.T, md *multidrop) (string, func() net.Conn) {
	name := "pipe-" + t.Name()
	var mu sync.Mutex
	var dev net.Conn
	RegisterTransport(name, func(config.TransportConfig) (Transport, error) {
		return pipeT{open: func() (io.ReadWriteCloser, error) {
			host, d := net.Pipe()
			mu.Lock()
			dev = d
			mu.Unlock()
			go md.serve(d)
			return host, nil
		}}, nil
	})
	return name, func() net.Conn {
		mu.Lock()
		defer mu.Unlock()
		return dev
	}
}

type pipeT struct {
	open func() (io.ReadWriteCloser, error)
}

func (p pipeT) Open(context.Context) (io.ReadWriteCloser, error) { return p.open() }
func (p pipeT) String() string                                   { return "pipe" }

func testConfig(transport string, ctls ...config.ControllerConfig) *config.Config {
	cfg := config.Default()
	cfg.Transport.Type = transport
	cfg.Controllers = ctls
	return cfg
}

func regs(names ...string) []config.RegisterConfig {
	out := make([]config.RegisterConfig, len(names))
	for i, n := range names {
		out[i] = config.RegisterConfig{Name: n}
	}
	return out
}

func startBridge(t *testing.T, dial BrokerDialer) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(conn, dial).Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	stateSub := conn.Subscribe(TopicState)
	first := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, first, "idle", "awaiting_config")
	return conn, stateSub
}

func TestBridge_EstablishesLinkAndReportsLoss(t *testing.T) {
	md := &multidrop{units: []*unit{newUnit(t, "fv1")}}
	name, device := pipeTransport(t, md)
	conn, stateSub := startBridge(t, dialerFor(newFakeBroker()))

	cfg := testConfig(name, config.ControllerConfig{
		Name:      "fv1",
		Registers: []config.RegisterConfig{{Name: "t0", PollInterval: time.Millisecond}},
	})
	conn.Publish(conn.NewMessage(config.TopicBridge, cfg, true))

	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	device().Close()
	degraded := nextStatePayload(t, stateSub, 3*time.Second)
	assertLevelStatus(t, degraded, "degraded", "link_lost_retrying")
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	conn, stateSub := startBridge(t, dialerFor(newFakeBroker()))
	conn.Publish(conn.NewMessage(config.TopicBridge, testConfig("bogus"), false))

	errState := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "transport_init_failed")
}

func TestBridge_BadConfigPayload(t *testing.T) {
	conn, stateSub := startBridge(t, dialerFor(newFakeBroker()))
	conn.Publish(conn.NewMessage(config.TopicBridge, `{"transport":{}}`, false))

	errState := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "config_decode_failed")
}

func TestBridge_BrokerDownRetries(t *testing.T) {
	md := &multidrop{}
	name, _ := pipeTransport(t, md)
	dial := func(config.MQTTConfig, string, string) (Broker, error) {
		return nil, errors.New("connection refused")
	}
	conn, stateSub := startBridge(t, dial)
	conn.Publish(conn.NewMessage(config.TopicBridge, testConfig(name), false))

	st := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, st, "degraded", "mqtt_dial_failed_retrying")
	assert.Contains(t, st["error"], "connection refused")
}

func TestBridge_PublishesDiscoveryStateAndCommands(t *testing.T) {
	old := announceDelay
	announceDelay = 0
	t.Cleanup(func() { announceDelay = old })

	fv1, fv2 := newUnit(t, "fv1"), newUnit(t, "fv2")
	fv2.st.t0 = types.ValidReading(types.Degrees(-2, 625))
	for i := 0; i < 3; i++ {
		fv1.st.faults.Inc(onewire.FaultBadCRC)
	}
	md := &multidrop{units: []*unit{fv1, fv2}}
	name, _ := pipeTransport(t, md)
	fb := newFakeBroker()
	conn, stateSub := startBridge(t, dialerFor(fb))

	cfg := testConfig(name,
		config.ControllerConfig{Name: "fv1", EntityPrefix: "tank1", Registers: regs("t0", "set/hi", "err/crc", "v0")},
		config.ControllerConfig{Name: "fv2", Registers: regs("t0")},
	)
	conn.Publish(conn.NewMessage(config.TopicBridge, cfg, true))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")

	// Discovery.
	fb.waitPublished(t, "fvcontrol/status", "online")
	p, _ := fb.get("homeassistant/number/fvc_fv1_set_hi/config")
	require.True(t, p.retained)
	var disc map[string]any
	require.NoError(t, json.Unmarshal([]byte(p.payload), &disc))
	assert.Equal(t, "fvcontrol/fv1/set_hi/state", disc["state_topic"])
	assert.Equal(t, "fvcontrol/fv1/set_hi/command", disc["command_topic"])
	assert.Equal(t, "tank1_set_hi", disc["object_id"])
	assert.Equal(t, "High set point", disc["name"])
	assert.Equal(t, "fvcontrol/status", disc["availability_topic"])
	assert.Equal(t, float64(90), disc["expire_after"])
	dev, _ := disc["device"].(map[string]any)
	assert.Equal(t, "2.0", dev["sw_version"])

	p, _ = fb.get("homeassistant/sensor/fvc_fv1_t0/config")
	disc = nil
	require.NoError(t, json.Unmarshal([]byte(p.payload), &disc))
	assert.NotContains(t, disc, "command_topic")
	assert.Equal(t, "temperature", disc["device_class"])

	// State.
	fb.waitPublished(t, "fvcontrol/fv1/t0/state", "19.2500")
	fb.waitPublished(t, "fvcontrol/fv2/t0/state", "-2.0625")
	fb.waitPublished(t, "fvcontrol/fv1/set_hi/state", "19.0")
	fb.waitPublished(t, "fvcontrol/fv1/v0/state", "Open")

	// Error counters are acknowledged after publishing.
	fb.waitPublished(t, "fvcontrol/fv1/err_crc/state", "3")
	require.Eventually(t, func() bool {
		return fv1.st.faults.Get(onewire.FaultBadCRC) == 0
	}, 3*time.Second, 5*time.Millisecond)

	// Commands.
	fb.deliver("fvcontrol/+/+/command", "fvcontrol/fv1/set_hi/command", "21.5")
	fb.waitPublished(t, "fvcontrol/fv1/set_hi/state", "21.5")
	_, hi := fv1.tab.SetPoints()
	assert.Equal(t, types.Degrees(21, 5000), hi)

	// Read-only registers ignore commands.
	fb.deliver("fvcontrol/+/+/command", "fvcontrol/fv1/t0/command", "5")

	// Home Assistant restarting asks for discovery again.
	_, before := fb.get("homeassistant/sensor/fvc_fv2_t0/config")
	fb.deliver("homeassistant/status", "homeassistant/status", "online")
	require.Eventually(t, func() bool {
		_, n := fb.get("homeassistant/sensor/fvc_fv2_t0/config")
		return n == before+1
	}, 3*time.Second, 5*time.Millisecond)
}

func TestBridge_OfflineOnStop(t *testing.T) {
	md := &multidrop{units: []*unit{newUnit(t, "fv1")}}
	name, _ := pipeTransport(t, md)
	fb := newFakeBroker()

	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(conn, dialerFor(fb)).Run(ctx)
		close(done)
	}()
	conn.Publish(conn.NewMessage(config.TopicBridge, testConfig(name, config.ControllerConfig{Name: "fv1", Registers: regs("t0")}), true))
	fb.waitPublished(t, "fvcontrol/fv1/t0/state", "19.2500")

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop")
	}
	p, _ := fb.get("fvcontrol/status")
	assert.Equal(t, published{true, "offline"}, p)
	fb.mu.Lock()
	assert.True(t, fb.closed)
	fb.mu.Unlock()
}

func TestBridge_StopsWithSilentLink(t *testing.T) {
	md := &multidrop{}
	name, _ := pipeTransport(t, md)
	fb := newFakeBroker()

	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(conn, dialerFor(fb)).Run(ctx)
		close(done)
	}()
	stateSub := conn.Subscribe(TopicState)
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "idle", "awaiting_config")
	conn.Publish(conn.NewMessage(config.TopicBridge, testConfig(name, config.ControllerConfig{Name: "fv1", Registers: regs("t0")}), true))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")

	// fv1 never answers, so the bridge is stuck waiting on the link.
	require.Eventually(t, func() bool {
		for _, l := range md.sent() {
			if l == "SELECT fv1" {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop while waiting on a silent link")
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T, want map[string]any", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	gotLevel, _ := payload["level"].(string)
	gotStatus, _ := payload["status"].(string)
	if gotLevel != wantLevel || gotStatus != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (payload=%v)",
			gotLevel, gotStatus, wantLevel, wantStatus, payload)
	}
}
