// Package tui is a terminal client for one job's discussion channel,
// driving the session API the way the SaaS front end would.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hirelane/discuss/internal/session"
	"github.com/hirelane/discuss/internal/store"
	"github.com/hirelane/discuss/internal/types"
)

type refreshMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model for one open channel.
type Model struct {
	session *session.Session
	self    types.User
	channel string

	viewport viewport.Model
	input    textarea.Model
	ready    bool
	status   string

	messages []types.Message
	typing   []types.TypingSignal
	seen     map[string]struct{}

	unsubscribe func()
	program     *tea.Program
}

// NewModel creates the model. Attach must be called with the running
// program before the first event arrives.
func NewModel(sess *session.Session, self types.User, channel string) *Model {
	input := textarea.New()
	input.Placeholder = "Message the team (/help for commands)"
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	return &Model{
		session: sess,
		self:    self,
		channel: channel,
		input:   input,
		seen:    make(map[string]struct{}),
	}
}

// Attach wires store changes into the program's event loop.
func (m *Model) Attach(p *tea.Program) {
	m.program = p
	m.unsubscribe = m.session.Subscribe(func(store.Change) {
		p.Send(refreshMsg{})
	})
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh(true)
		return m, nil

	case refreshMsg:
		m.refresh(m.viewport.AtBottom())
		m.session.MarkChannelRead()
		return m, nil

	case tickMsg:
		// Sweep typing expiry and re-render the presence line.
		m.typing = m.session.TypingPeers()
		return m, tickCmd()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.unsubscribe != nil {
				m.unsubscribe()
			}
			m.session.Close()
			return m, tea.Quit
		case "enter":
			return m, m.submit()
		case "pgup":
			if m.viewport.AtTop() {
				m.loadOlder()
				return m, nil
			}
		}

		var cmd tea.Cmd
		before := m.input.Value()
		m.input, cmd = m.input.Update(msg)
		if m.input.Value() != before {
			if strings.TrimSpace(m.input.Value()) == "" {
				m.session.StopTyping()
			} else {
				m.session.NotifyTyping()
			}
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) resize(width, height int) {
	inputHeight := m.input.Height() + 1
	chromeHeight := 3 // title + status + typing line
	if !m.ready {
		m.viewport = viewport.New(width, height-inputHeight-chromeHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = height - inputHeight - chromeHeight
	}
	m.input.SetWidth(width)
}

func (m *Model) refresh(follow bool) {
	m.messages = m.session.Messages()
	m.typing = m.session.TypingPeers()
	for _, msg := range m.messages {
		if _, ok := m.seen[msg.ID]; !ok {
			m.seen[msg.ID] = struct{}{}
			m.maybeNotify(msg)
		}
	}
	m.viewport.SetContent(m.renderMessages())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "/") {
		m.runCommand(text)
		m.input.Reset()
		return nil
	}

	if _, err := m.session.Send(text, nil, ""); err != nil {
		m.status = err.Error()
		return nil
	}
	m.status = ""
	m.input.Reset()
	m.refresh(true)
	return nil
}

// runCommand handles slash commands: /reply, /edit, /rm, /react, /retry,
// /discard, /attach, /older.
func (m *Model) runCommand(text string) {
	fields := strings.Fields(text)
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	rest := func(i int) string {
		if i < len(fields) {
			return strings.Join(fields[i:], " ")
		}
		return ""
	}

	var err error
	switch fields[0] {
	case "/help":
		m.status = "/reply <id> <text> | /edit <id> <text> | /rm <id> | /react <id> <emoji> | /attach <path> [text] | /retry <token> | /discard <token> | /older"
		return
	case "/reply":
		id := m.resolveID(arg(1))
		_, err = m.session.Send(rest(2), &id, "")
	case "/edit":
		err = m.session.EditMessage(m.resolveID(arg(1)), rest(2))
	case "/rm":
		err = m.session.DeleteMessage(m.resolveID(arg(1)))
	case "/react":
		err = m.session.ToggleReaction(m.resolveID(arg(1)), arg(2))
	case "/attach":
		_, err = m.session.Send(rest(2), nil, arg(1))
	case "/retry":
		_, err = m.session.Retry(m.resolveToken(arg(1)))
	case "/discard":
		m.session.DiscardFailed(m.resolveToken(arg(1)))
	case "/older":
		m.loadOlder()
		return
	default:
		err = fmt.Errorf("unknown command %s", fields[0])
	}

	if err != nil {
		m.status = err.Error()
	} else {
		m.status = ""
	}
}

// resolveID expands a #suffix reference to a full message id. Unmatched
// references pass through so the session reports them.
func (m *Model) resolveID(ref string) string {
	ref = strings.TrimPrefix(ref, "#")
	for i := len(m.messages) - 1; i >= 0; i-- {
		if strings.HasSuffix(m.messages[i].ID, ref) {
			return m.messages[i].ID
		}
	}
	return ref
}

func (m *Model) resolveToken(ref string) string {
	ref = strings.TrimPrefix(ref, "#")
	for i := len(m.messages) - 1; i >= 0; i-- {
		if tok := m.messages[i].Token; tok != "" && strings.HasSuffix(tok, ref) {
			return tok
		}
	}
	return ref
}

func (m *Model) loadOlder() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	loaded, err := m.session.LoadOlder(ctx)
	switch {
	case err != nil:
		m.status = "history fetch failed, scroll up to retry"
	case !loaded && !m.session.HasMore():
		m.status = "beginning of discussion"
	default:
		m.status = ""
	}
	m.refresh(false)
}
