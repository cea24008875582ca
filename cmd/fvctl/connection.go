package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fvcontroller-go/services/bridge"
)

// session is an open link to the controller bus.
type session struct {
	*bridge.Link
	rwc io.Closer
}

func (s *session) Close() error { return s.rwc.Close() }

// openSession dials the configured transport and deselects every
// controller so the first command starts clean.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	rwc, err := bridge.OpenTransport(ctx, cfg.Transport)
	if err != nil {
		return nil, err
	}
	l := bridge.NewLink(rwc)
	if err := l.Reset(); err != nil {
		rwc.Close()
		return nil, fmt.Errorf("bus reset: %w", err)
	}
	return &session{Link: l, rwc: rwc}, nil
}

// getPassword retrieves the password from the environment or prompts for it.
func getPassword() (string, error) {
	if pw := os.Getenv("FVC_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		// Not a terminal; take a line as typed.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	return string(pw), nil
}
