package main

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-talk/pkg/talk/session"
)

const closeTimeout = 5 * time.Second

// controller is the part of *session.Controller the UI drives.
type controller interface {
	Events() <-chan session.Event
	Toggle(ctx context.Context) error
	Close(ctx context.Context) error
}

type sessionEventMsg struct {
	event session.Event
}

type toggleDoneMsg struct {
	err error
}

type closedMsg struct{}

var (
	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#3B82F6"))
	activeButtonStyle = buttonStyle.
				Background(lipgloss.Color("#EF4444"))
	disabledButtonStyle = buttonStyle.
				Foreground(lipgloss.Color("#9CA3AF")).
				Background(lipgloss.Color("#374151"))
	micStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
	speakingMicStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#22C55E"))
	processingStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#A78BFA"))
	messageStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171"))
	helpStyle = lipgloss.NewStyle().
			Faint(true)
)

// model renders one talk button backed by a session controller.
type model struct {
	ctrl     controller
	events   <-chan session.Event
	view     session.View
	width    int
	quitting bool
}

func newModel(ctrl controller) model {
	return model{
		ctrl:   ctrl,
		events: ctrl.Events(),
		view:   session.NewView(),
	}
}

func (m model) Init() tea.Cmd {
	return listenForSessionEvent(m.events)
}

// listenForSessionEvent blocks until the controller emits an event. A closed
// channel ends the subscription.
func listenForSessionEvent(channel <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-channel
		if !ok {
			return nil
		}
		return sessionEventMsg{event: event}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.quitting {
				return m, nil
			}
			m.quitting = true
			return m, m.closeCmd()
		case "enter", " ":
			if m.quitting || m.view.ButtonDisabled() {
				return m, nil
			}
			return m, m.toggleCmd()
		}
	case sessionEventMsg:
		m.view = m.view.Apply(msg.event)
		return m, listenForSessionEvent(m.events)
	case toggleDoneMsg:
		return m, nil
	case closedMsg:
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
	}
	return m, nil
}

func (m model) toggleCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return toggleDoneMsg{err: ctrl.Toggle(context.Background())}
	}
}

func (m model) closeCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = ctrl.Close(ctx)
		return closedMsg{}
	}
}

func (m model) View() string {
	var b strings.Builder

	style := buttonStyle
	switch {
	case m.view.ButtonDisabled():
		style = disabledButtonStyle
	case m.view.Status == session.StateActive:
		style = activeButtonStyle
	}
	b.WriteString(style.Render(m.view.ButtonLabel()))
	b.WriteString("\n\n")

	if m.view.ShowMicIndicator() {
		if m.view.Speaking {
			b.WriteString(speakingMicStyle.Render("● mic: speaking"))
		} else {
			b.WriteString(micStyle.Render("○ mic: listening"))
		}
		b.WriteString("\n")
	}
	if m.view.Processing {
		b.WriteString(processingStyle.Render("AI is processing..."))
		b.WriteString("\n")
	}
	if m.view.Message != "" {
		msgStyle := messageStyle
		if m.width > 4 {
			msgStyle = msgStyle.MaxWidth(m.width)
		}
		b.WriteString(msgStyle.Render(m.view.Message))
		b.WriteString("\n")
	}
	if m.view.Error != "" {
		b.WriteString(errorStyle.Render(m.view.Error))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.quitting {
		b.WriteString(helpStyle.Render("ending session..."))
	} else {
		b.WriteString(helpStyle.Render("enter/space: toggle  q: quit"))
	}
	b.WriteString("\n")
	return b.String()
}
