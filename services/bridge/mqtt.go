package bridge

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fvcontroller-go/services/config"
)

// Broker is the part of an MQTT client the bridge uses.
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, fn func(topic string, payload []byte)) error
	Close()
}

// BrokerDialer connects to a broker, leaving will as the retained
// last-will payload on willTopic.
type BrokerDialer func(cfg config.MQTTConfig, willTopic, will string) (Broker, error)

var errMQTTTimeout = errors.New("mqtt: timed out")

const mqttWait = 15 * time.Second

// pahoBroker restores subscriptions after paho reconnects.
type pahoBroker struct {
	c mqtt.Client

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// DialMQTT connects with paho.
func DialMQTT(cfg config.MQTTConfig, willTopic, will string) (Broker, error) {
	b := &pahoBroker{subs: map[string]mqtt.MessageHandler{}}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10*time.Second).
		SetWill(willTopic, will, 1, true).
		SetOnConnectHandler(b.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			println("[bridge] mqtt connection lost:", err.Error())
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	b.c = mqtt.NewClient(opts)
	if err := wait(b.c.Connect()); err != nil {
		return nil, err
	}
	return b, nil
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(mqttWait) {
		return errMQTTTimeout
	}
	return t.Error()
}

func (b *pahoBroker) Publish(topic string, retained bool, payload []byte) error {
	return wait(b.c.Publish(topic, 0, retained, payload))
}

func (b *pahoBroker) Subscribe(topic string, fn func(string, []byte)) error {
	h := func(_ mqtt.Client, m mqtt.Message) { fn(m.Topic(), m.Payload()) }
	b.mu.Lock()
	b.subs[topic] = h
	b.mu.Unlock()
	return wait(b.c.Subscribe(topic, 0, h))
}

func (b *pahoBroker) resubscribe(c mqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, h := range b.subs {
		c.Subscribe(t, 0, h)
	}
}

func (b *pahoBroker) Close() { b.c.Disconnect(250) }
