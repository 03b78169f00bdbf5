package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SubmitMessage  key.Binding
	RetryLast      key.Binding
	ResetSession   key.Binding
	CopyLastReply  key.Binding
	CopyTranscript key.Binding
	ScrollUp       key.Binding
	ScrollDown     key.Binding
	Quit           key.Binding
}

var DefaultKeyMap = KeyMap{
	SubmitMessage:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	RetryLast:      key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "retry last reply")),
	ResetSession:   key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new conversation")),
	CopyLastReply:  key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy last reply")),
	CopyTranscript: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "copy transcript")),
	ScrollUp:       key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
	ScrollDown:     key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdown", "scroll down")),
	Quit:           key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}
