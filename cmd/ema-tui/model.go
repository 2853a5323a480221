package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/koscakluka/ema-dictation/core/connection"
	"github.com/koscakluka/ema-dictation/core/resultchannel"
	"github.com/koscakluka/ema-dictation/core/typewriter"
)

const (
	revealBudget   = 2
	visibleEntries = 12
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	partialStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	refinedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type sessionOptions struct {
	Language       string
	Correct        bool
	TargetLanguage string
}

// controlSender is the part of the connection manager the UI writes to.
type controlSender interface {
	SendJSON(v any) error
}

type entry struct {
	segmentID  uint64
	text       string
	warning    string
	corrected  string
	translated string
	language   string
}

type (
	resultMsg   []byte
	stateMsg    connection.State
	revealMsg   struct{}
	channelDone struct{}
)

type model struct {
	sender   controlSender
	messages <-chan []byte
	states   <-chan connection.State
	session  sessionOptions

	spinner spinner.Model
	width   int

	conn      connection.State
	status    string
	sessionID string
	lastSeq   uint64

	partialSegment uint64
	partialRev     uint64
	partial        string
	shown          string

	entries []entry
	lastErr string
}

type messageSource interface {
	controlSender
	Messages() <-chan []byte
}

func newModel(source messageSource, states <-chan connection.State, session sessionOptions) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle
	return model{
		sender:   source,
		messages: source.Messages(),
		states:   states,
		session:  session,
		spinner:  s,
		width:    80,
		conn:     connection.State{Status: connection.StatusConnecting},
		status:   "idle",
	}
}

func waitForResult(messages <-chan []byte) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-messages
		if !ok {
			return channelDone{}
		}
		return resultMsg(data)
	}
}

func waitForState(states <-chan connection.State) tea.Cmd {
	return func() tea.Msg {
		state, ok := <-states
		if !ok {
			return channelDone{}
		}
		return stateMsg(state)
	}
}

func reveal() tea.Cmd {
	return tea.Tick(revealInterval, func(time.Time) tea.Msg { return revealMsg{} })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForResult(m.messages), waitForState(m.states))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case stateMsg:
		m.conn = connection.State(msg)
		return m, waitForState(m.states)
	case resultMsg:
		m.apply(msg)
		cmds := []tea.Cmd{waitForResult(m.messages)}
		if m.shown != m.partial {
			cmds = append(cmds, reveal())
		}
		return m, tea.Batch(cmds...)
	case revealMsg:
		if typewriter.Done(m.shown, m.partial) {
			return m, nil
		}
		m.shown = typewriter.Next(m.shown, m.partial, revealBudget)
		return m, reveal()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "s", " ":
		m.send("start", m.sessionConfig())
	case "x":
		m.send("stop", nil)
	case "c":
		m.session.Correct = !m.session.Correct
		m.send("update_config", m.sessionConfig())
	}
	return m, nil
}

func (m *model) send(action string, config any) {
	control, err := resultchannel.NewControlMessage(action, config)
	if err == nil {
		err = m.sender.SendJSON(control)
	}
	if err != nil {
		m.lastErr = err.Error()
		return
	}
	m.lastErr = ""
}

func (m model) sessionConfig() resultchannel.SessionConfigMessage {
	config := resultchannel.SessionConfigMessage{
		CorrectionEnabled: &m.session.Correct,
	}
	if m.session.Language != "" {
		config.Language = &m.session.Language
	}
	if m.session.TargetLanguage != "" {
		config.TargetLanguage = &m.session.TargetLanguage
	}
	return config
}

// apply folds one result channel message into the model.
func (m *model) apply(data []byte) {
	var envelope struct {
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		m.lastErr = fmt.Sprintf("unreadable message: %v", err)
		return
	}
	// Reconnects can deliver a message twice.
	if envelope.Seq != 0 && envelope.Seq <= m.lastSeq {
		return
	}
	m.lastSeq = max(m.lastSeq, envelope.Seq)

	switch envelope.Type {
	case resultchannel.TypeStatus:
		var msg resultchannel.StatusMessage
		if json.Unmarshal(data, &msg) == nil {
			m.status = msg.Status
			if msg.SessionID != "" && msg.SessionID != m.sessionID {
				m.sessionID = msg.SessionID
				m.entries = nil
				m.partialSegment, m.partialRev = 0, 0
				m.partial, m.shown = "", ""
			}
		}
	case resultchannel.TypeError:
		var msg resultchannel.ErrorMessage
		if json.Unmarshal(data, &msg) == nil {
			m.lastErr = msg.Message
		}
	case resultchannel.TypeTranscriptionPartial:
		var msg resultchannel.TranscriptionPartialMessage
		if json.Unmarshal(data, &msg) != nil {
			return
		}
		if msg.SegmentID < m.partialSegment || (msg.SegmentID == m.partialSegment && msg.Revision <= m.partialRev) {
			return
		}
		if msg.SegmentID != m.partialSegment {
			m.shown = ""
		}
		m.partialSegment, m.partialRev, m.partial = msg.SegmentID, msg.Revision, msg.Text
	case resultchannel.TypeTranscription:
		var msg resultchannel.TranscriptionMessage
		if json.Unmarshal(data, &msg) != nil {
			return
		}
		if msg.SegmentID >= m.partialSegment {
			m.partialSegment, m.partialRev = msg.SegmentID, ^uint64(0)
			m.partial, m.shown = "", ""
		}
		if msg.Text == "" && msg.Warning == "" {
			return
		}
		m.entries = append(m.entries, entry{segmentID: msg.SegmentID, text: msg.Text, warning: msg.Warning})
	case resultchannel.TypeCorrection:
		var msg resultchannel.CorrectionMessage
		if json.Unmarshal(data, &msg) == nil {
			if e := m.entry(msg.SegmentID); e != nil {
				e.corrected = msg.Text
			}
		}
	case resultchannel.TypeTranslation:
		var msg resultchannel.TranslationMessage
		if json.Unmarshal(data, &msg) == nil {
			if e := m.entry(msg.SegmentID); e != nil {
				e.translated = msg.Text
				e.language = msg.TargetLanguage
			}
		}
	}
}

func (m *model) entry(segmentID uint64) *entry {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].segmentID == segmentID {
			return &m.entries[i]
		}
	}
	return nil
}

func (m model) View() string {
	var b strings.Builder
	width := max(m.width-2, 20)

	b.WriteString(titleStyle.Render("ema dictation"))
	b.WriteString("  ")
	b.WriteString(m.connectionLine())
	b.WriteString("\n\n")

	entries := m.entries
	if len(entries) > visibleEntries {
		entries = entries[len(entries)-visibleEntries:]
	}
	for _, e := range entries {
		switch {
		case e.warning != "":
			b.WriteString(warnStyle.Render(wordwrap.String("! "+e.warning, width)))
		case e.corrected != "" && e.corrected != e.text:
			b.WriteString(refinedStyle.Render(wordwrap.String(e.corrected, width)))
		default:
			b.WriteString(wordwrap.String(e.text, width))
		}
		b.WriteString("\n")
		if e.translated != "" {
			b.WriteString(refinedStyle.Render(wordwrap.String(fmt.Sprintf("  [%s] %s", e.language, e.translated), width)))
			b.WriteString("\n")
		}
	}
	if m.shown != "" {
		b.WriteString(partialStyle.Render(wordwrap.String(m.shown, width)))
		b.WriteString("\n")
	}

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(wordwrap.String(m.lastErr, width)))
		b.WriteString("\n")
	}

	correction := "off"
	if m.session.Correct {
		correction = "on"
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("s start • x stop • c correction (%s) • q quit", correction)))
	return b.String()
}

func (m model) connectionLine() string {
	switch m.conn.Status {
	case connection.StatusConnected:
		return m.spinner.View() + " " + statusStyle.Render(m.status)
	case connection.StatusReconnecting:
		return warnStyle.Render(fmt.Sprintf("reconnecting (attempt %d)", m.conn.Attempt))
	case connection.StatusDisconnected:
		if m.conn.Err != nil {
			return errorStyle.Render("disconnected: " + m.conn.Err.Error())
		}
		return errorStyle.Render("disconnected")
	default:
		return m.spinner.View() + " connecting"
	}
}
