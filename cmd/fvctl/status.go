package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"fvcontroller-go/errcode"
)

// statusRegs are shown by status and watch, in order. A controller without
// one of them leaves the row out.
var statusRegs = []string{
	"ident", "ver",
	"t0", "t1", "t2", "t3",
	"set/lo", "set/hi", "alarm/lo", "alarm/hi",
	"valve", "v0", "alarm",
	"err/miss", "err/shrt", "err/crc", "err/pwr",
}

var faultRegs = map[string]bool{"err/miss": true, "err/shrt": true, "err/crc": true, "err/pwr": true}

type registerReader interface {
	Read(ctl, reg string) (string, error)
}

// fetch reads regs from ctl. Registers the controller rejects are skipped;
// any other failure ends the pass.
func fetch(r registerReader, ctl string, regs []string) (map[string]string, error) {
	vals := make(map[string]string, len(regs))
	for _, reg := range regs {
		v, err := r.Read(ctl, reg)
		switch {
		case err == nil:
			vals[reg] = v
		case errcode.Of(err) == errcode.Rejected:
		default:
			return vals, fmt.Errorf("%s %s: %w", ctl, reg, err)
		}
	}
	return vals, nil
}

// renderStatus lays out one controller's registers in a box.
func renderStatus(ctl string, vals map[string]string) string {
	var lines []string
	for _, reg := range statusRegs {
		v, ok := vals[reg]
		if !ok || reg == "ident" {
			continue
		}
		switch {
		case faultRegs[reg] && v != "0":
			lines = append(lines, labelStyle.Render(reg)+errorStyle.Render(v))
		case reg == "alarm" && v != "" && !strings.EqualFold(v, "none"):
			lines = append(lines, labelStyle.Render(reg)+warningStyle.Render(v))
		default:
			lines = append(lines, row(reg, v))
		}
	}
	title := ctl
	if id, ok := vals["ident"]; ok && id != ctl {
		title = fmt.Sprintf("%s (%s)", ctl, id)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		boxStyle.Render(strings.Join(lines, "\n")),
	)
}

var statusCmd = &cobra.Command{
	Use:   "status CONTROLLER...",
	Short: "Show temperatures, set points, valve and fault counters",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, ctl := range args {
			vals, err := fetch(s, ctl, statusRegs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(ctl, vals))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
