// Package command serves the line protocol spoken on the controller's
// shared serial bus. Many controllers share one line, so a controller only
// answers after a SELECT naming its ident and stays silent otherwise.
package command

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/google/shlex"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
	"fvcontroller-go/services/registers"
	"fvcontroller-go/x/conv"
)

const unknownCmd = "ERR Unknown command; try SELECT, READ, SET, HELP reg, SCANBUS"

// Table is the register view the protocol needs.
type Table interface {
	Ident() string
	Lookup(name string) (*registers.Register, bool)
	Names() []string
}

// Scanner enumerates the probe bus.
type Scanner interface {
	Scan(dst []onewire.Address) (int, error)
}

// Handler keeps the selection state of one serial line.
type Handler struct {
	Table   Table
	Scanner Scanner
	// Transmit switches the line driver; nil when the port is not shared.
	Transmit func(on bool)

	selected bool
}

func (h *Handler) Selected() bool { return h.selected }

// Serve handles lines from r until r ends or ctx is done.
func (h *Handler) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case l := <-lines:
			h.Handle(l, w)
		}
	}
}

// Handle runs one command line and writes the reply, if any.
func (h *Handler) Handle(line string, w io.Writer) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	args, err := shlex.Split(line)
	if err != nil {
		if h.selected {
			reply(w, "ERR bad quoting")
		}
		return
	}
	if len(args) == 0 {
		return
	}
	if args[0] == "SELECT" {
		h.selectCmd(args[1:], w)
		return
	}
	if !h.selected {
		return
	}
	switch args[0] {
	case "READ":
		h.readCmd(args[1:], w)
	case "SET":
		h.setCmd(args[1:], w)
	case "HELP":
		h.helpCmd(args[1:], w)
	case "SCANBUS":
		h.scanCmd(w)
	default:
		reply(w, unknownCmd)
	}
}

func (h *Handler) selectCmd(args []string, w io.Writer) {
	id := h.Table.Ident()
	if len(args) == 1 && args[0] == id {
		h.selected = true
		h.transmit(true)
		reply(w, "OK ", id, " selected")
		return
	}
	if h.selected {
		h.transmit(false)
	}
	h.selected = false
}

func (h *Handler) transmit(on bool) {
	if h.Transmit != nil {
		h.Transmit(on)
	}
}

func arg0(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func (h *Handler) readCmd(args []string, w io.Writer) {
	name := arg0(args)
	r, ok := h.Table.Lookup(name)
	if !ok {
		reply(w, "ERR register ", name, " does not exist")
		return
	}
	reply(w, "OK ", r.Storage.ReadString())
}

func (h *Handler) setCmd(args []string, w io.Writer) {
	if len(args) < 2 {
		reply(w, "ERR SET needs argument after space")
		return
	}
	name := args[0]
	r, ok := h.Table.Lookup(name)
	if !ok {
		reply(w, "ERR register ", name, " does not exist")
		return
	}
	if err := r.Storage.WriteString(strings.Join(args[1:], " ")); err != nil {
		println("[command] SET", name, "failed:", string(errcode.Of(err)))
		reply(w, "ERR write failed")
		return
	}
	reply(w, "OK ", name, " set to ", r.Storage.ReadString())
}

func (h *Handler) helpCmd(args []string, w io.Writer) {
	if r, ok := h.Table.Lookup(arg0(args)); ok {
		reply(w, "OK ", r.Description)
		return
	}
	var sb strings.Builder
	sb.WriteString("ERR Available registers: ")
	for _, n := range h.Table.Names() {
		sb.WriteString(n)
		sb.WriteByte(' ')
	}
	reply(w, sb.String())
}

func (h *Handler) scanCmd(w io.Writer) {
	if h.Scanner == nil {
		reply(w, "ERR scan unavailable")
		return
	}
	var addrs [onewire.MaxDevices]onewire.Address
	n, err := h.Scanner.Scan(addrs[:])
	switch errcode.Of(err) {
	case errcode.ShortedLow:
		reply(w, "ERR Bus shorted to ground")
		return
	case errcode.ShortedHigh:
		reply(w, "ERR Bus shorted to +5v")
		return
	case errcode.OK, errcode.SearchFailed:
	default:
		reply(w, "ERR scan failed")
		return
	}
	buf := make([]byte, 0, 24+17*len(addrs))
	var nb [4]byte
	buf = append(buf, "OK "...)
	buf = append(buf, conv.Utoa(nb[:], uint64(n))...)
	buf = append(buf, " sensors found"...)
	for i := 0; i < n && i < len(addrs); i++ {
		buf = append(buf, ' ')
		buf = addrs[i].AppendText(buf)
	}
	reply(w, string(buf))
}

func reply(w io.Writer, parts ...string) {
	for _, p := range parts {
		io.WriteString(w, p)
	}
	io.WriteString(w, "\n")
}
