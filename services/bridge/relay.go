package bridge

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"
)

// listen opens the relay socket. Tests swap it for an in-memory listener.
var listen = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }

var (
	// relayIdle drops a client that has sent nothing for this long.
	relayIdle = 10 * time.Second
	// relayWait bounds how long a line waits for the link session.
	relayWait = 10 * time.Second
)

// relayReq is one client line for the link session. end marks a closed
// connection; the session resets the bus before the next one.
type relayReq struct {
	line  string
	end   bool
	reply chan string
}

// relay serves the raw line protocol to TCP clients, one connection at a
// time, over whichever link the bridge has up. Others wait in the backlog.
type relay struct {
	ln   net.Listener
	reqs chan relayReq
}

func newRelay(addr string) (*relay, error) {
	ln, err := listen(addr)
	if err != nil {
		return nil, err
	}
	return &relay{ln: ln, reqs: make(chan relayReq)}, nil
}

func (r *relay) Close() error { return r.ln.Close() }

func (r *relay) serve(ctx context.Context) {
	for {
		c, err := r.ln.Accept()
		if err != nil {
			return
		}
		println("[bridge] relay client", c.RemoteAddr().String())
		r.handle(ctx, c)
		c.Close()
		if _, ok := r.exchange(ctx, relayReq{end: true}); !ok {
			return
		}
	}
}

func (r *relay) handle(ctx context.Context, c net.Conn) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	sc := bufio.NewScanner(c)
	for {
		c.SetReadDeadline(time.Now().Add(relayIdle))
		if !sc.Scan() {
			if err := sc.Err(); err != nil && ctx.Err() == nil {
				println("[bridge] relay read:", err.Error())
			}
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		resp, ok := r.exchange(ctx, relayReq{line: line})
		if !ok {
			return
		}
		if _, err := io.WriteString(c, resp+"\n"); err != nil {
			println("[bridge] relay write:", err.Error())
			return
		}
	}
}

// exchange hands req to the link session and waits for its answer. With no
// session taking requests the line times out.
func (r *relay) exchange(ctx context.Context, req relayReq) (string, bool) {
	req.reply = make(chan string, 1)
	t := time.NewTimer(relayWait)
	defer t.Stop()
	select {
	case r.reqs <- req:
	case <-t.C:
		return "TIMEOUT", true
	case <-ctx.Done():
		return "", false
	}
	select {
	case resp := <-req.reply:
		return resp, true
	case <-ctx.Done():
		return "", false
	}
}

// relay runs one relayed line on the link and publishes anything it showed
// about a polled register.
func (ss *session) relay(req relayReq) error {
	if req.end {
		req.reply <- ""
		return ss.link.Reset()
	}
	resp, err := ss.link.Relay(req.line)
	if err != nil {
		req.reply <- "TIMEOUT"
		return err
	}
	req.reply <- resp
	return ss.observe(req.line, resp)
}

// observe reads a relayed READ or SET reply from the selected controller.
func (ss *session) observe(cmd, resp string) error {
	val, ok := strings.CutPrefix(resp, "OK ")
	if !ok {
		return nil
	}
	verb, rest, _ := strings.Cut(cmd, " ")
	var reg string
	switch verb {
	case "READ":
		reg = rest
	case "SET":
		reg, _, _ = strings.Cut(rest, " ")
		if val, ok = strings.CutPrefix(val, reg+" set to "); !ok {
			return nil
		}
	default:
		return nil
	}
	e := ss.entity(ss.link.Selected(), reg)
	if e == nil {
		return nil
	}
	return ss.update(e, val)
}

func (ss *session) entity(ctl, reg string) *entity {
	for _, c := range ss.ctls {
		if c.name != ctl {
			continue
		}
		for _, e := range c.regs {
			if e.reg == reg {
				return e
			}
		}
	}
	return nil
}
