package bridge

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"fvcontroller-go/drivers/onewire"
	"fvcontroller-go/errcode"
)

// Link speaks the controller line protocol over a shared bus. Controllers
// answer one line per command and only while selected, so Link remembers
// which one is selected and reselects when another is addressed.
//
// Link is not safe for concurrent use.
type Link struct {
	rw       io.ReadWriter
	rd       *bufio.Reader
	selected string
}

func NewLink(rw io.ReadWriter) *Link {
	return &Link{rw: rw, rd: bufio.NewReader(rw)}
}

// Reset ends any half-written command and deselects every controller.
func (l *Link) Reset() error {
	l.selected = ""
	if _, err := io.WriteString(l.rw, "\nSELECT NONE\n"); err != nil {
		return err
	}
	l.rd.Reset(l.rw)
	return nil
}

// Selected is the controller the link believes is listening.
func (l *Link) Selected() string { return l.selected }

func (l *Link) Select(ctl string) error {
	if l.selected == ctl {
		return nil
	}
	l.selected = ""
	r, err := l.roundTrip("SELECT", quote(ctl))
	if err != nil {
		return err
	}
	if r != ctl+" selected" {
		return &errcode.E{C: errcode.NotSelected, Op: "select " + ctl, Msg: r}
	}
	l.selected = ctl
	return nil
}

func (l *Link) Read(ctl, reg string) (string, error) {
	if err := l.Select(ctl); err != nil {
		return "", err
	}
	return l.roundTrip("READ", reg)
}

// Write sets reg and returns the value the controller read back.
func (l *Link) Write(ctl, reg, val string) (string, error) {
	if err := l.Select(ctl); err != nil {
		return "", err
	}
	r, err := l.roundTrip("SET", reg, quote(val))
	if err != nil {
		return "", err
	}
	prefix := reg + " set to "
	if !strings.HasPrefix(r, prefix) {
		return "", &errcode.E{C: errcode.Error, Op: "set " + reg, Msg: "unexpected reply " + r}
	}
	return r[len(prefix):], nil
}

// Help returns a register's description.
func (l *Link) Help(ctl, reg string) (string, error) {
	if err := l.Select(ctl); err != nil {
		return "", err
	}
	return l.roundTrip("HELP", reg)
}

// Registers lists the controller's registers. The firmware answers an
// unknown HELP with the list, so the rejection is the success path here.
func (l *Link) Registers(ctl string) ([]string, error) {
	_, err := l.Help(ctl, "")
	var e *errcode.E
	if errors.As(err, &e) && e.C == errcode.Rejected {
		if rest, ok := strings.CutPrefix(e.Msg, "Available registers:"); ok {
			return strings.Fields(rest), nil
		}
	}
	if err == nil {
		err = &errcode.E{C: errcode.Error, Op: "help", Msg: "no register list"}
	}
	return nil, err
}

// Scan enumerates the controller's probe bus.
func (l *Link) Scan(ctl string) ([]onewire.Address, error) {
	if err := l.Select(ctl); err != nil {
		return nil, err
	}
	r, err := l.roundTrip("SCANBUS")
	if err != nil {
		return nil, err
	}
	f := strings.Fields(r)
	if len(f) < 3 || f[1] != "sensors" || f[2] != "found" {
		return nil, &errcode.E{C: errcode.Error, Op: "scanbus", Msg: "unexpected reply " + r}
	}
	out := make([]onewire.Address, 0, len(f)-3)
	for _, s := range f[3:] {
		a, err := onewire.ParseAddress(s)
		if err != nil {
			return nil, errcode.Wrap("scanbus", errcode.InvalidValue, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// roundTrip sends one command and returns the text after "OK ".
func (l *Link) roundTrip(words ...string) (string, error) {
	cmd := strings.Join(words, " ")
	if _, err := io.WriteString(l.rw, cmd+"\n"); err != nil {
		return "", err
	}
	line, err := l.rd.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			// A late reply would be taken for the next command's.
			l.selected = ""
			return "", errcode.Wrap(words[0], errcode.Timeout, err)
		}
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(line, "OK "):
		return line[3:], nil
	case strings.HasPrefix(line, "ERR "):
		return "", &errcode.E{C: errcode.Rejected, Op: words[0], Msg: line[4:]}
	}
	return "", &errcode.E{C: errcode.Error, Op: words[0], Msg: "corrupt reply " + line}
}

// Relay passes one raw command line through for another client and returns
// the reply line without its newline. A silent bus gives "TIMEOUT" and a cut
// off reply "CORRUPT". The selection follows what a relayed SELECT did.
func (l *Link) Relay(cmd string) (string, error) {
	if _, err := io.WriteString(l.rw, cmd+"\n"); err != nil {
		return "", err
	}
	line, err := l.rd.ReadString('\n')
	if err != nil {
		if !isTimeout(err) {
			return "", err
		}
		l.selected = ""
		if line == "" {
			return "TIMEOUT", nil
		}
		return "CORRUPT", nil
	}
	line = strings.TrimRight(line, "\r\n")
	if ctl, ok := strings.CutPrefix(cmd, "SELECT "); ok {
		l.selected = ""
		if line == "OK "+ctl+" selected" {
			l.selected = ctl
		}
	}
	return line, nil
}

// errNoReply marks a read that timed out with nothing received.
var errNoReply = errors.New("no reply")

func isTimeout(err error) bool {
	if errors.Is(err, errNoReply) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// quote makes v a single word for the controller's tokeniser.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t'\"\\#") {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}

// IsLinkError reports whether err means the transport itself failed, as
// opposed to one controller refusing or not answering.
func IsLinkError(err error) bool {
	if err == nil {
		return false
	}
	switch errcode.Of(err) {
	case errcode.Timeout, errcode.Rejected, errcode.NotSelected, errcode.InvalidValue:
		return false
	}
	var e *errcode.E
	return !errors.As(err, &e)
}
