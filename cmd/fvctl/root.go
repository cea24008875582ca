package main

import (
	"github.com/spf13/cobra"

	"fvcontroller-go/services/config"
)

const version = "2.0.0"

// connFlags override the transport section of the config file.
type connFlags struct {
	port        string
	baud        int
	url         string
	username    string
	noSSLVerify bool
}

var (
	configPath string
	conn       connFlags
)

var rootCmd = &cobra.Command{
	Use:   "fvctl",
	Short: "Fermentation valve controller tool",
	Long: `fvctl reads and writes controller registers over the shared bus and runs
the MQTT bridge that publishes them to Home Assistant.

Connection modes:
  Serial:    --port /dev/fvcontrollers [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Flags override the transport section of --config. For WebSocket
authentication the password comes from the config file, the FVC_PASSWORD
environment variable, or an interactive prompt.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "/etc/fvbridge.yaml", "Bridge configuration file")

	pf.StringVarP(&conn.port, "port", "p", "", "Serial port device")
	pf.IntVarP(&conn.baud, "baud", "b", 9600, "Baud rate (serial only)")

	pf.StringVarP(&conn.url, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.StringVar(&conn.username, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&conn.noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// apply copies the flags the user set onto cfg. A port or URL also picks
// the transport type.
func (f connFlags) apply(cfg *config.Config, changed func(name string) bool) {
	t := &cfg.Transport
	if changed("port") {
		t.Type = "serial"
		t.Serial.Port = f.port
	}
	if changed("baud") {
		t.Serial.Baud = f.baud
	}
	if changed("url") {
		t.Type = "ws"
		t.WS.URL = f.url
	}
	if changed("username") {
		t.WS.Username = f.username
	}
	if changed("no-ssl-verify") {
		t.WS.InsecureSkipVerify = f.noSSLVerify
	}
}

// loadConfig reads --config and applies the connection flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	conn.apply(cfg, cmd.Flags().Changed)
	ws := &cfg.Transport.WS
	if cfg.Transport.Type == "ws" && ws.Username != "" && ws.Password == "" {
		if ws.Password, err = getPassword(); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}
