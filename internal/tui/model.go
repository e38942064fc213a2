// Package tui renders the chat client in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/healthbridge/chat-client/internal/controller"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/realtime"
)

// stateMsg carries a fresh controller snapshot into the update loop.
type stateMsg controller.State

// Model is the bubbletea model for the chat view.
type Model struct {
	ctrl *controller.Controller

	state    controller.State
	input    textinput.Model
	spin     spinner.Model
	viewport viewport.Model

	width  int
	height int
	ready  bool
}

// New creates the chat view bound to a started controller.
func New(ctrl *controller.Controller) Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 4000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = pendingStyle

	return Model{
		ctrl:  ctrl,
		state: ctrl.Snapshot(),
		input: input,
		spin:  spin,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForState(), m.spin.Tick, textinput.Blink)
}

// waitForState blocks until the controller publishes a change, then hands
// the snapshot to Update. Re-issued after every delivery.
func (m Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		<-m.ctrl.Updates()
		return stateMsg(m.ctrl.Snapshot())
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true

	case stateMsg:
		followed := !m.ready || m.viewport.AtBottom()
		m.state = controller.State(msg)
		m.refreshViewport(followed)
		cmds = append(cmds, m.waitForState())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.ctrl.Stop()
			return m, tea.Quit

		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) != "" {
				m.ctrl.SendMessage(text)
				m.input.Reset()
			}
			return m, tea.Batch(cmds...)

		case "ctrl+n":
			m.ctrl.CreateConversation()
			return m, tea.Batch(cmds...)

		case "ctrl+x":
			if m.state.ActiveID != "" {
				m.ctrl.DeleteConversation(m.state.ActiveID)
			}
			return m, tea.Batch(cmds...)

		case "tab", "shift+tab":
			m.cycleConversation(msg.String() == "tab")
			return m, tea.Batch(cmds...)

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
			return m, tea.Batch(cmds...)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// cycleConversation selects the next or previous conversation.
func (m *Model) cycleConversation(forward bool) {
	convs := m.state.Conversations
	if len(convs) < 2 {
		return
	}
	current := 0
	for i, conv := range convs {
		if conv.ID == m.state.ActiveID {
			current = i
			break
		}
	}
	var next int
	if forward {
		next = (current + 1) % len(convs)
	} else {
		next = (current - 1 + len(convs)) % len(convs)
	}
	m.ctrl.SelectConversation(convs[next])
}

func (m *Model) layout() {
	const chromeHeight = 4 // header, input, help, error banner slot
	h := m.height - chromeHeight
	if h < 3 {
		h = 3
	}
	w := m.width - sidebarWidth()
	if w < 20 {
		w = 20
	}
	if !m.ready {
		m.viewport = viewport.New(w, h)
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.input.Width = m.width - 4
	m.refreshViewport(true)
}

func sidebarWidth() int { return 30 }

// refreshViewport rerenders the transcript, keeping the view pinned to the
// bottom while the user has not scrolled away.
func (m *Model) refreshViewport(follow bool) {
	m.viewport.SetContent(m.renderMessages())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessages() string {
	var b strings.Builder

	if m.state.Loading && len(m.state.Messages) == 0 {
		return pendingStyle.Render("Loading conversation...")
	}

	for _, msg := range m.state.Messages {
		label := assistantLabelStyle.Render("Assistant")
		if msg.Role == model.RoleUser {
			label = userLabelStyle.Render("You")
			if msg.Provisional() {
				label += pendingStyle.Render(" (sending)")
			}
		}
		b.WriteString(label)
		b.WriteString("\n")

		content := msg.Content
		if msg.ID == m.state.StreamingMessageID && m.state.Streaming {
			content += "▌"
		}
		b.WriteString(wrap(content, m.viewport.Width))
		b.WriteString("\n\n")
	}

	if m.state.Thinking {
		b.WriteString(assistantLabelStyle.Render("Assistant"))
		b.WriteString("\n")
		b.WriteString(m.spin.View())
		b.WriteString(pendingStyle.Render(" thinking..."))
		b.WriteString("\n")
	}

	return b.String()
}

func (m *Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString(convStyle.Render("Conversations"))
	b.WriteString("\n\n")

	for _, conv := range m.state.Conversations {
		title := conv.Title
		if title == "" {
			title = model.DefaultTitle
		}
		title = truncate(title, 24)
		if conv.ID == m.state.ActiveID {
			b.WriteString(activeConvStyle.Render("> " + title))
		} else {
			b.WriteString(convStyle.Render("  " + title))
		}
		b.WriteString("\n")
	}

	return sidebarStyle.Height(m.viewport.Height).Render(b.String())
}

// truncate shortens s to at most n characters, counting runes so
// multibyte titles are never split mid-character.
func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// connectionStatus renders the channel state for the header.
func (m *Model) connectionStatus() string {
	switch m.state.ConnState {
	case realtime.StateOpen:
		return statusConnectedStyle.Render("● connected")
	case realtime.StateConnecting:
		return statusRetryStyle.Render("● connecting")
	case realtime.StateClosedRetrying:
		return statusRetryStyle.Render(fmt.Sprintf("● reconnecting (attempt %d, retry in %s)", m.state.Attempt, m.state.RetryIn))
	case realtime.StateClosedFailed:
		return statusFailedStyle.Render("● disconnected")
	default:
		return statusFailedStyle.Render("● offline")
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	title := "HealthBridge Chat"
	for _, conv := range m.state.Conversations {
		if conv.ID == m.state.ActiveID && conv.Title != "" {
			title = conv.Title
			break
		}
	}
	header := headerStyle.Width(m.width).Render(title + "  " + m.connectionStatus())

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), m.viewport.View())

	banner := ""
	if m.state.LastError != "" {
		banner = errorBannerStyle.Width(m.width).Render(m.state.LastError)
	}

	help := helpStyle.Render("enter send · tab switch chat · ctrl+n new · ctrl+x delete · esc quit")

	parts := []string{header, body}
	if banner != "" {
		parts = append(parts, banner)
	}
	parts = append(parts, m.input.View(), help)

	return strings.Join(parts, "\n")
}

// wrap applies a soft wrap at the given width.
func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}
