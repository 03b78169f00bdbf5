package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"
	"github.com/pkg/errors"

	"github.com/parley-chat/parley/pkg/backend"
	"github.com/parley-chat/parley/pkg/conversation"
	"github.com/parley-chat/parley/pkg/events"
	"github.com/parley-chat/parley/pkg/session"
)

// EventMsg wraps a chat event forwarded from the event router into the
// bubbletea program.
type EventMsg struct {
	Event events.Event
}

// Model renders read-only snapshots of the session controller's
// conversation. It never mutates the store; all writes go through the
// controller.
type Model struct {
	controller *session.Controller

	textArea textarea.Model
	viewport viewport.Model
	keyMap   KeyMap
	style    *Style
	copyText func(string) error

	status string
	ready  bool
	width  int
	height int
}

func NewModel(controller *session.Controller) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask something..."
	ta.Focus()
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	return Model{
		controller: controller,
		textArea:   ta,
		keyMap:     DefaultKeyMap,
		style:      DefaultStyles(),
		copyText:   clipboard.WriteAll,
	}
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatHeight := msg.Height - m.textArea.Height() - 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = chatHeight
		}
		m.textArea.SetWidth(msg.Width)
		m.refreshConversation()

	case EventMsg:
		switch e := msg.Event.(type) {
		case *events.EventError:
			m.status = m.style.Error.Render("error: " + e.ErrorString)
		case *events.EventInterrupt:
			m.status = m.style.Status.Render("turn interrupted")
		case *events.EventFinal:
			m.status = ""
		}
		m.refreshConversation()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keyMap.SubmitMessage):
			m.submit()
			m.refreshConversation()
			return m, nil
		case key.Matches(msg, m.keyMap.RetryLast):
			m.retryLast()
			m.refreshConversation()
			return m, nil
		case key.Matches(msg, m.keyMap.ResetSession):
			m.controller.Reset()
			m.status = ""
			m.refreshConversation()
			return m, nil
		case key.Matches(msg, m.keyMap.CopyLastReply):
			m.copyLastReply()
			return m, nil
		case key.Matches(msg, m.keyMap.CopyTranscript):
			m.copyTranscript()
			return m, nil
		case key.Matches(msg, m.keyMap.ScrollUp):
			m.viewport.HalfViewUp()
			return m, nil
		case key.Matches(msg, m.keyMap.ScrollDown):
			m.viewport.HalfViewDown()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.textArea, cmd = m.textArea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) submit() {
	text := m.textArea.Value()

	_, err := m.controller.Send(context.Background(), text)
	switch {
	case err == nil:
		m.textArea.Reset()
		m.status = m.style.Status.Render("waiting for reply...")
	case errors.Is(err, session.ErrBusy):
		m.status = m.style.Status.Render("still replying, hang on")
	case errors.Is(err, backend.ErrEmptyInput):
		m.status = m.style.Status.Render("nothing to send")
	default:
		m.status = m.style.Error.Render("error: " + err.Error())
	}
}

func (m *Model) retryLast() {
	msgs := m.controller.Conversation()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != conversation.RoleAssistant {
			continue
		}
		handle, err := m.controller.Retry(context.Background(), msgs[i].ID)
		switch {
		case errors.Is(err, session.ErrBusy):
			m.status = m.style.Status.Render("still replying, hang on")
		case err != nil:
			m.status = m.style.Error.Render("error: " + err.Error())
		case handle != nil:
			m.status = m.style.Status.Render("regenerating...")
		}
		return
	}
}

func (m *Model) copyLastReply() {
	msgs := m.controller.Conversation()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != conversation.RoleAssistant || msgs[i].Streaming {
			continue
		}
		if err := m.copyText(msgs[i].Content); err != nil {
			m.status = m.style.Error.Render("copy failed: " + err.Error())
			return
		}
		m.status = m.style.Status.Render("reply copied")
		return
	}
	m.status = m.style.Status.Render("no reply to copy")
}

func (m *Model) copyTranscript() {
	transcript := m.controller.Conversation().GetSinglePrompt()
	if transcript == "" {
		m.status = m.style.Status.Render("nothing to copy")
		return
	}
	if err := m.copyText(transcript); err != nil {
		m.status = m.style.Error.Render("copy failed: " + err.Error())
		return
	}
	m.status = m.style.Status.Render("transcript copied")
}

func (m *Model) refreshConversation() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}

func (m *Model) renderConversation() string {
	width := m.viewport.Width - 4
	if width < 10 {
		width = 10
	}

	blocks := []string{}
	for _, msg := range m.controller.Conversation() {
		content := msg.Content
		if msg.Streaming && content == "" {
			content = "..."
		}

		body := wordwrap.String(content, width)
		if msg.Reasoning != "" {
			body += "\n" + m.style.Reasoning.Render(wordwrap.String(msg.Reasoning, width))
		}
		for _, source := range msg.Sources {
			body += "\n" + m.style.Status.Render(fmt.Sprintf("[%s] %s", source.Title, source.URL))
		}

		style := m.style.AssistantMessage
		if msg.Role == conversation.RoleUser {
			style = m.style.UserMessage
		}
		blocks = append(blocks, style.Width(width+2).Render(body))
	}

	return strings.Join(blocks, "\n")
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	statusLine := m.status
	if statusLine == "" {
		cfg := m.controller.Config()
		statusLine = m.style.Status.Render(
			fmt.Sprintf("model: %s | style: %s | enter to send, ctrl+r retry, ctrl+y copy, ctrl+n new, ctrl+c quit",
				cfg.Model, cfg.Style.ID))
	}

	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), statusLine, m.textArea.View())
}
