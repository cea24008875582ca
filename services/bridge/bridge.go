// Package bridge connects a bus of controllers to MQTT. It polls registers
// over the line protocol, publishes them with Home Assistant discovery and
// forwards command topics back as register writes.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"fvcontroller-go/bus"
	"fvcontroller-go/services/config"
	"fvcontroller-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

var TopicState = bus.T("bridge", "state")

const (
	backoffMin       = 250 * time.Millisecond
	backoffMax       = 30 * time.Second
	announceInterval = time.Minute
	pollTick         = time.Second
)

// announceDelay separates discovery from the availability message that
// follows it.
var announceDelay = 5 * time.Second

// Start runs the bridge with paho until ctx is cancelled. It waits for a
// *config.Config on config.TopicBridge and restarts the link on each one.
func Start(ctx context.Context, conn *bus.Connection) {
	New(conn, DialMQTT).Run(ctx)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic
	dialMQTT   BrokerDialer

	// Now is the poll clock.
	Now func() time.Time

	mu     sync.Mutex
	curRun context.CancelFunc
	wg     sync.WaitGroup
}

func New(conn *bus.Connection, dial BrokerDialer) *Service {
	return &Service{conn: conn, stateTopic: TopicState, dialMQTT: dial, Now: time.Now}
}

// Run blocks until ctx is cancelled and the current link has stopped.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(config.TopicBridge)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, ok := msg.Payload.(*config.Config)
			if !ok || cfg == nil {
				s.publishState("error", "config_decode_failed", fmt.Errorf("unsupported config payload type: %T", msg.Payload))
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) reconfigure(parent context.Context, cfg *config.Config) {
	s.stopCurrent()
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.curRun = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLink(ctx, cfg)
	}()
}

// -----------------------------------------------------------------------------
// Link supervision
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg *config.Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}
	avail := cfg.MQTT.Path + "/status"

	var relayReqs chan relayReq
	if cfg.Listen != "" {
		rl, err := newRelay(cfg.Listen)
		if err != nil {
			s.publishState("error", "listen_failed", err)
			return
		}
		defer rl.Close()
		go rl.serve(ctx)
		relayReqs = rl.reqs
	}

	delay := backoffMin
	retry := func(status string, err error) bool {
		s.publishState("degraded", status, fmt.Errorf("%v (retry in %s)", err, delay))
		ok := sleep(ctx, delay)
		delay = timex.Backoff(delay, backoffMin, backoffMax)
		return ok
	}

	for {
		if ctx.Err() != nil {
			return
		}
		broker, err := s.dialMQTT(cfg.MQTT, avail, "offline")
		if err != nil {
			if !retry("mqtt_dial_failed_retrying", err) {
				return
			}
			continue
		}
		rwc, err := tr.Open(ctx)
		if err != nil {
			broker.Close()
			if !retry("dial_failed_retrying", err) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		delay = backoffMin
		// A read blocked on a silent link ends when the link closes.
		stop := context.AfterFunc(ctx, func() { rwc.Close() })
		err = s.handleLink(ctx, cfg, rwc, broker, relayReqs)
		stop()
		rwc.Close()
		broker.Publish(avail, true, []byte("offline"))
		broker.Close()
		if err == nil || ctx.Err() != nil {
			return
		}
		if !retry("link_lost_retrying", err) {
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Link session
// -----------------------------------------------------------------------------

type controller struct {
	name      string
	uniqueID  string
	swVersion string
	regs      []*entity
}

type entity struct {
	ctl          *controller
	reg          string
	desc         string
	kind         *kind
	poll         time.Duration
	next         time.Time
	uniqueID     string
	objectID     string
	stateTopic   string
	commandTopic string
}

type inbound struct {
	topic   string
	payload string
}

type session struct {
	s        *Service
	cfg      *config.Config
	link     *Link
	broker   Broker
	avail    string
	ctls     []*controller
	commands map[string]*entity
	lastAnn  time.Time
}

func (s *Service) handleLink(ctx context.Context, cfg *config.Config, rwc io.ReadWriter, broker Broker, relay <-chan relayReq) error {
	ss := &session{
		s:        s,
		cfg:      cfg,
		link:     NewLink(rwc),
		broker:   broker,
		avail:    cfg.MQTT.Path + "/status",
		commands: map[string]*entity{},
	}
	if err := ss.link.Reset(); err != nil {
		return err
	}
	ss.build()
	for _, c := range ss.ctls {
		if err := ss.identify(c); IsLinkError(err) {
			return err
		}
	}

	in := make(chan inbound, 16)
	push := func(t string, p []byte) {
		select {
		case in <- inbound{t, string(p)}:
		case <-ctx.Done():
		}
	}
	if err := broker.Subscribe(cfg.MQTT.Path+"/+/+/command", push); err != nil {
		return err
	}
	if err := broker.Subscribe(cfg.MQTT.DiscoveryPrefix+"/status", push); err != nil {
		return err
	}
	ss.sendDiscovery()

	tick := time.NewTicker(pollTick)
	defer tick.Stop()
	for {
		if err := ss.announce(); err != nil {
			return err
		}
		if err := ss.poll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case m := <-in:
			if err := ss.inbound(m); err != nil {
				return err
			}
		case r := <-relay:
			if err := ss.relay(r); err != nil {
				return err
			}
		case <-tick.C:
		}
	}
}

func (ss *session) build() {
	now := ss.s.Now()
	for _, cc := range ss.cfg.Controllers {
		c := &controller{name: cc.Name, uniqueID: "fvc_" + cc.Name}
		prefix := cc.EntityPrefix
		if prefix == "" {
			prefix = strings.ToLower(cc.Name)
		}
		for _, rc := range cc.Registers {
			cat := lookupKind(rc.Name)
			e := &entity{
				ctl:  c,
				reg:  rc.Name,
				desc: cat.desc,
				kind: cat.kind,
				poll: cat.kind.poll,
				next: now,
			}
			if rc.Description != "" {
				e.desc = rc.Description
			}
			if rc.PollInterval > 0 {
				e.poll = rc.PollInterval
			}
			ha := haName(rc.Name)
			e.uniqueID = c.uniqueID + "_" + ha
			e.objectID = prefix + "_" + ha
			e.stateTopic = ss.cfg.MQTT.Path + "/" + cc.Name + "/" + ha + "/state"
			e.commandTopic = ss.cfg.MQTT.Path + "/" + cc.Name + "/" + ha + "/command"
			if e.kind.writable {
				ss.commands[e.commandTopic] = e
			}
			c.regs = append(c.regs, e)
		}
		if len(c.regs) == 0 {
			println("[bridge]", cc.Name, ": no registers declared")
		}
		ss.ctls = append(ss.ctls, c)
	}
}

// identify checks the controller answers to its name and learns its version.
func (ss *session) identify(c *controller) error {
	id, err := ss.link.Read(c.name, "ident")
	if err != nil {
		println("[bridge]", c.name, ": ping failed:", err.Error())
		return err
	}
	if id != c.name {
		println("[bridge]", c.name, ": ident reads", id)
	}
	if v, err := ss.link.Read(c.name, "ver"); err == nil {
		c.swVersion = v
	}
	return nil
}

func (ss *session) device(c *controller) map[string]any {
	return map[string]any{
		"identifiers":  "fvcontroller_" + c.name,
		"manufacturer": "fvcontroller",
		"model":        "fvcontroller",
		"name":         c.name,
		"sw_version":   c.swVersion,
	}
}

func (ss *session) sendDiscovery() {
	for _, c := range ss.ctls {
		dev := ss.device(c)
		for _, e := range c.regs {
			msg := map[string]any{
				"availability_topic": ss.avail,
				"device":             dev,
				"object_id":          e.objectID,
				"name":               e.desc,
				"state_topic":        e.stateTopic,
				"unique_id":          e.uniqueID,
				"expire_after":       int((e.poll + 30*time.Second) / time.Second),
			}
			if e.kind.writable {
				msg["command_topic"] = e.commandTopic
			}
			for k, v := range e.kind.discovery {
				msg[k] = v
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			topic := ss.cfg.MQTT.DiscoveryPrefix + "/" + e.kind.component + "/" + e.uniqueID + "/config"
			ss.broker.Publish(topic, true, b)
		}
	}
	ss.lastAnn = ss.s.Now().Add(-announceInterval + announceDelay)
}

func (ss *session) announce() error {
	now := ss.s.Now()
	if now.Sub(ss.lastAnn) < announceInterval {
		return nil
	}
	ss.lastAnn = now
	return ss.broker.Publish(ss.avail, true, []byte("online"))
}

func (ss *session) poll() error {
	now := ss.s.Now()
	for _, c := range ss.ctls {
		for _, e := range c.regs {
			if now.Before(e.next) {
				continue
			}
			v, err := ss.link.Read(c.name, e.reg)
			if IsLinkError(err) {
				return err
			}
			if err != nil {
				println("[bridge]", c.name, e.reg, ":", err.Error())
				e.next = now.Add(e.poll)
				continue
			}
			if err := ss.update(e, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// update publishes a fresh value. Blank values are not published; the
// entity then expires in Home Assistant.
func (ss *session) update(e *entity, v string) error {
	e.next = ss.s.Now().Add(e.poll)
	if v == "" || v == "none" {
		return nil
	}
	out := v
	if e.kind.format != nil {
		out = e.kind.format(v)
	}
	if err := ss.broker.Publish(e.stateTopic, false, []byte(out)); err != nil {
		println("[bridge] publish", e.stateTopic, ":", err.Error())
	}
	if e.kind.ack && v != "0" {
		if _, err := ss.link.Write(e.ctl.name, e.reg, v); err != nil {
			if IsLinkError(err) {
				return err
			}
			println("[bridge]", e.ctl.name, e.reg, ": ack failed:", err.Error())
		}
	}
	return nil
}

func (ss *session) inbound(m inbound) error {
	if m.topic == ss.cfg.MQTT.DiscoveryPrefix+"/status" {
		if m.payload == "online" {
			ss.sendDiscovery()
		}
		return nil
	}
	e, ok := ss.commands[m.topic]
	if !ok {
		println("[bridge] write to unknown or read-only register:", m.topic)
		return nil
	}
	v, err := ss.link.Write(e.ctl.name, e.reg, m.payload)
	if IsLinkError(err) {
		return err
	}
	if err != nil {
		println("[bridge]", e.ctl.name, e.reg, ": set failed:", err.Error())
		return nil
	}
	return ss.update(e, v)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  timex.NowMs(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
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
