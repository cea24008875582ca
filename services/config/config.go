// Package config loads the host-side YAML configuration and hands it to
// services over the bus as retained messages.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fvcontroller-go/bus"
)

const (
	serviceName  = "config"
	configPrefix = "config"
)

// TopicBridge carries the *Config the bridge runs with.
var TopicBridge = bus.T(configPrefix, "bridge")

type Config struct {
	Transport   TransportConfig    `yaml:"transport"`
	MQTT        MQTTConfig         `yaml:"mqtt"`
	Controllers []ControllerConfig `yaml:"controllers"`

	// Listen, when set, is a TCP address where other tools can speak the
	// line protocol through the bridge's link, e.g. "localhost:1576".
	Listen string `yaml:"listen"`
}

type TransportConfig struct {
	// "serial" or "ws".
	Type   string       `yaml:"type"`
	Serial SerialConfig `yaml:"serial"`
	WS     WSConfig     `yaml:"ws"`
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// WSConfig reaches a serial server that relays the bus over a websocket.
type WSConfig struct {
	URL                string        `yaml:"url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
}

type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Path            string `yaml:"path"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

type ControllerConfig struct {
	Name         string           `yaml:"name"`
	EntityPrefix string           `yaml:"entity_prefix"`
	Registers    []RegisterConfig `yaml:"registers"`
}

// RegisterConfig may be written as a bare register name.
type RegisterConfig struct {
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Description  string        `yaml:"description"`
}

func (r *RegisterConfig) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		r.Name = n.Value
		return nil
	}
	type plain RegisterConfig
	return n.Decode((*plain)(r))
}

// Default is a single-port setup talking to a local broker.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Type: "serial",
			Serial: SerialConfig{
				Port:        "/dev/fvcontrollers",
				Baud:        9600,
				ReadTimeout: time.Second,
			},
			WS: WSConfig{ReadTimeout: time.Second},
		},
		MQTT: MQTTConfig{
			Broker:          "tcp://localhost:1883",
			ClientID:        "fvbridge",
			Path:            "fvcontrol",
			DiscoveryPrefix: "homeassistant",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data into cfg, rejecting unknown keys, and validates it.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Transport.Type {
	case "serial":
		if c.Transport.Serial.Port == "" {
			return errors.New("transport.serial.port is required")
		}
		if c.Transport.Serial.Baud <= 0 {
			return fmt.Errorf("transport.serial.baud %d is not positive", c.Transport.Serial.Baud)
		}
	case "ws":
		if c.Transport.WS.URL == "" {
			return errors.New("transport.ws.url is required")
		}
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}
	if c.Transport.WS.ReadTimeout < 0 {
		return errors.New("transport.ws.read_timeout is negative")
	}
	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	if c.MQTT.Path == "" {
		return errors.New("mqtt.path is required")
	}
	seen := map[string]bool{}
	for i, ctl := range c.Controllers {
		if ctl.Name == "" {
			return fmt.Errorf("controllers[%d]: name is required", i)
		}
		if seen[ctl.Name] {
			return fmt.Errorf("controller %q declared twice", ctl.Name)
		}
		seen[ctl.Name] = true
		for _, r := range ctl.Registers {
			if r.Name == "" {
				return fmt.Errorf("controller %q: register without a name", ctl.Name)
			}
			if r.PollInterval < 0 {
				return fmt.Errorf("controller %q register %q: negative poll_interval", ctl.Name, r.Name)
			}
		}
	}
	return nil
}

// Controller finds a controller by name.
func (c *Config) Controller(name string) (*ControllerConfig, bool) {
	for i := range c.Controllers {
		if c.Controllers[i].Name == name {
			return &c.Controllers[i], true
		}
	}
	return nil, false
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

// Service publishes a loaded Config for the other host services.
type Service struct {
	Name string
	Cfg  *Config
}

func NewService(cfg *Config) *Service {
	return &Service{Name: serviceName, Cfg: cfg}
}

// Start publishes the configuration retained, so late subscribers get it too.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Cfg == nil {
		return errors.New("config: nothing loaded")
	}
	if err := s.Cfg.Validate(); err != nil {
		return err
	}
	conn.Publish(conn.NewMessage(TopicBridge, s.Cfg, true))
	return nil
}
