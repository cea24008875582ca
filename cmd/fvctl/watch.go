package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const (
	watchInterval = 2 * time.Second
	maxLogEntries = 6
)

// lockedLink serialises the poller and interactive writes.
type lockedLink struct {
	mu sync.Mutex
	s  *session
}

func (l *lockedLink) Read(ctl, reg string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Read(ctl, reg)
}

func (l *lockedLink) Write(ctl, reg, val string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Write(ctl, reg, val)
}

type registerWriter interface {
	registerReader
	Write(ctl, reg, val string) (string, error)
}

type logEntry struct {
	at    time.Time
	text  string
	isErr bool
}

type watchModel struct {
	ctl      string
	link     registerWriter
	vals     map[string]string
	err      error
	updated  time.Time
	input    textinput.Model
	log      []logEntry
	quitting bool
}

type tickMsg time.Time

type statusMsg struct {
	vals map[string]string
	err  error
}

type setMsg struct {
	reg, val string
	err      error
}

func newWatchModel(ctl string, link registerWriter) watchModel {
	ti := textinput.New()
	ti.Placeholder = "set/hi 19.5"
	ti.Prompt = "set> "
	ti.CharLimit = 64
	ti.Focus()
	return watchModel{ctl: ctl, link: link, input: ti}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), textinput.Blink)
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		vals, err := fetch(m.link, m.ctl, statusRegs)
		return statusMsg{vals: vals, err: err}
	}
}

func watchTick() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// parseSet splits "reg value..." as typed at the prompt.
func parseSet(line string) (reg, val string, ok bool) {
	f := strings.Fields(line)
	if len(f) < 2 {
		return "", "", false
	}
	return f[0], strings.Join(f[1:], " "), true
}

func (m watchModel) set(reg, val string) tea.Cmd {
	return func() tea.Msg {
		v, err := m.link.Write(m.ctl, reg, val)
		return setMsg{reg: reg, val: v, err: err}
	}
}

func (m *watchModel) addLog(text string, isErr bool) {
	m.log = append(m.log, logEntry{at: time.Now(), text: text, isErr: isErr})
	if len(m.log) > maxLogEntries {
		m.log = m.log[len(m.log)-maxLogEntries:]
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.SetValue("")
			reg, val, ok := parseSet(line)
			if !ok {
				if strings.TrimSpace(line) != "" {
					m.addLog("usage: REGISTER VALUE", true)
				}
				return m, nil
			}
			return m, m.set(reg, val)
		}

	case tickMsg:
		return m, m.fetch()

	case statusMsg:
		m.err = msg.err
		if msg.vals != nil {
			m.vals = msg.vals
		}
		m.updated = time.Now()
		return m, watchTick()

	case setMsg:
		if msg.err != nil {
			m.addLog(fmt.Sprintf("%s: %v", msg.reg, msg.err), true)
			return m, nil
		}
		m.addLog(fmt.Sprintf("%s set to %s", msg.reg, msg.val), false)
		return m, m.fetch()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	if m.vals == nil && m.err == nil {
		b.WriteString(dimStyle.Render("reading " + m.ctl + "..."))
	} else {
		b.WriteString(renderStatus(m.ctl, m.vals))
	}
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	} else if !m.updated.IsZero() {
		b.WriteString(dimStyle.Render("updated "+m.updated.Format("15:04:05")) + "\n")
	}
	for _, e := range m.log {
		line := e.at.Format("15:04:05") + " " + e.text
		if e.isErr {
			b.WriteString(errorStyle.Render(line))
		} else {
			b.WriteString(valueStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n" + m.input.View() + "\n")
	b.WriteString(dimStyle.Render("enter to write, esc to quit"))
	return b.String()
}

var watchCmd = &cobra.Command{
	Use:   "watch CONTROLLER",
	Short: "Live view of one controller with a prompt for register writes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		p := tea.NewProgram(newWatchModel(args[0], &lockedLink{s: s}), tea.WithContext(cmd.Context()))
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
