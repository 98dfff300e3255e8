// Package tui renders one conversation store in the terminal: the ordered
// transcript, connection status, typing/status indicators, and transfer
// progress.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatsync/internal/domain"
	"chatsync/internal/engine"
)

var (
	ownStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	theirStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("236")).Background(lipgloss.Color("252"))
)

// storeChangedMsg signals that the conversation store mutated.
type storeChangedMsg struct{}

// errorMsg carries a user-visible error from the engine's navigator.
type errorMsg string

// Model is the bubbletea model for one chat view.
type Model struct {
	session *engine.Session
	store   *engine.Store

	input    textinput.Model
	vp       viewport.Model
	changes  chan struct{}
	errs     chan string
	lastErr  string
	width    int
	height   int
	ready    bool
	quitting bool
}

func New(session *engine.Session, store *engine.Store, changes chan struct{}, errs chan string) *Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press Enter"
	ti.Focus()
	ti.CharLimit = 5000

	return &Model{
		session: session,
		store:   store,
		input:   ti,
		changes: changes,
		errs:    errs,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange(), m.waitForError())
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return storeChangedMsg{}
	}
}

func (m *Model) waitForError() tea.Cmd {
	return func() tea.Msg {
		return errorMsg(<-m.errs)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - 4
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			m.session.Dispose()
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.input.Reset()
				if err := m.session.Send(text); err != nil {
					m.lastErr = err.Error()
				}
				m.refresh()
			}
			return m, nil
		}

	case storeChangedMsg:
		m.refresh()
		cmds = append(cmds, m.waitForChange())

	case errorMsg:
		m.lastErr = string(msg)
		cmds = append(cmds, m.waitForError())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.vp, cmd = m.vp.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, msg := range m.store.Messages() {
		b.WriteString(renderMessage(msg, m.vp.Width))
		b.WriteString("\n")
	}
	if m.store.Typing() || m.store.Awaiting() {
		b.WriteString(statusStyle.Render("…"))
		b.WriteString("\n")
	}
	m.vp.SetContent(b.String())
	m.vp.GotoBottom()
}

func renderMessage(msg domain.Message, width int) string {
	ts := msg.Timestamp.Local().Format("15:04")

	if msg.Role == domain.RoleStatus {
		marker := "·"
		if msg.Status == domain.StatusActive {
			marker = "◌"
		}
		return statusStyle.Render(fmt.Sprintf("%s %s %s", marker, ts, msg.Content))
	}

	style := theirStyle
	if msg.Role == domain.RoleOwn {
		style = ownStyle
		switch msg.Delivery {
		case domain.DeliveryPending:
			style = pendingStyle
		case domain.DeliveryFailed:
			style = failedStyle
		}
	}

	body := msg.Content
	if msg.Attachment != nil {
		body = fmt.Sprintf("%s [file: %s, %d bytes]", body, msg.Attachment.Filename, msg.Attachment.SizeBytes)
		body = strings.TrimSpace(body)
	}
	line := fmt.Sprintf("%s %s: %s", ts, msg.Sender, body)
	return style.Width(width).Render(line)
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading…"
	}

	status := string(m.store.ConnectionStatus())
	if t := m.store.Transfer(); t != nil && t.State == domain.TransferActive {
		status = fmt.Sprintf("%s · uploading %s %d%%", status, t.Filename, t.Progress)
	}
	if m.lastErr != "" {
		status = fmt.Sprintf("%s · %s", status, failedStyle.Render(m.lastErr))
	}
	bar := barStyle.Width(m.width).Render(" " + status)

	return fmt.Sprintf("%s\n%s\n%s", m.vp.View(), bar, m.input.View())
}
