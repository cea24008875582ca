package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fvcontroller-go/bus"
	"fvcontroller-go/services/bridge"
	"fvcontroller-go/services/config"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Publish the configured controllers to Home Assistant over MQTT",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := applyListen(cfg, listenAddr, cmd.Flags().Changed("listen")); err != nil {
			return err
		}
		if len(cfg.Controllers) == 0 {
			return errors.New("no controllers configured in " + configPath)
		}

		ctx := cmd.Context()
		b := bus.NewBus(4)
		mon := b.NewConnection("fvctl")
		sub := mon.Subscribe(bridge.TopicState)
		defer mon.Unsubscribe(sub)

		done := make(chan struct{})
		go func() {
			defer close(done)
			bridge.Start(ctx, b.NewConnection("bridge"))
		}()
		if err := config.NewService(cfg).Start(ctx, b.NewConnection("config")); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for {
			select {
			case <-done:
				return nil
			case m := <-sub.Channel():
				fmt.Fprintln(out, formatBridgeState(time.Now(), m.Payload))
			}
		}
	},
}

var listenAddr string

// applyListen sets the line protocol relay address from --listen. An empty
// value turns the relay off.
func applyListen(cfg *config.Config, addr string, changed bool) error {
	if !changed {
		return nil
	}
	cfg.Listen = addr
	return cfg.Validate()
}

// formatBridgeState renders a bridge state message for the log.
func formatBridgeState(at time.Time, payload any) string {
	st, ok := payload.(map[string]any)
	if !ok {
		return dimStyle.Render(at.Format("15:04:05")) + " " + fmt.Sprint(payload)
	}
	level, _ := st["level"].(string)
	status, _ := st["status"].(string)

	var lv string
	switch level {
	case "up":
		lv = valueStyle.Render(level)
	case "degraded":
		lv = warningStyle.Render(level)
	case "error":
		lv = errorStyle.Render(level)
	default:
		lv = dimStyle.Render(level)
	}
	line := dimStyle.Render(at.Format("15:04:05")) + " " + lv + " " + status
	if e, ok := st["error"].(string); ok {
		line += ": " + e
	}
	return line
}

func init() {
	bridgeCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Relay the line protocol to TCP clients on this address (e.g. localhost:1576)")
	rootCmd.AddCommand(bridgeCmd)
}
