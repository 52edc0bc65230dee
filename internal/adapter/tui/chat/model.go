package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"conclave/internal/domain"
	"conclave/internal/usecase"
)

// Session is the slice of an orchestrator the chat UI drives.
type Session interface {
	Chat(ctx context.Context, text string, sink domain.DeltaSink) (*usecase.TurnResult, error)
	ListSpecialists(ctx context.Context) ([]domain.RegistryEntry, error)
	SpecialistHistory(ctx context.Context, agentID string) ([]domain.Message, error)
	ResolveConfirmation(ctx context.Context, callID string, approved bool) error
}

// Deps holds the model's collaborators.
type Deps struct {
	Session   Session
	SessionID string
	Logger    *slog.Logger
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleSystem
	roleError
	roleReport
)

type entry struct {
	role     role
	label    string
	text     string
	rendered string // cached markdown output for assistant entries
}

var (
	userLabel   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botLabel    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	reportLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	mutedText   = lipgloss.NewStyle().Faint(true)
	errorText   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

const relayNote = "(the assistant will discuss this report with your next message)"

// Model is the Bubble Tea model for a chat session.
type Model struct {
	deps Deps

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	entries []entry
	partial string // reply text streamed so far

	width, height int
	ready         bool
	quitting      bool

	// gen is bumped on every request; messages tagged with an older gen
	// belong to a cancelled turn and are dropped.
	gen      uint64
	waiting  bool
	cancelFn context.CancelFunc
	events   <-chan tea.Msg
}

// NewModel creates a chat model for deps.Session.
func NewModel(deps Deps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	in := textinput.New()
	in.Placeholder = "Message the assistant, or /help"
	in.Prompt = "> "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{deps: deps, input: in, spinner: sp}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case DeltaMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.partial += msg.Text
		m.refresh()
		return m, waitForTurn(m.events)

	case TurnDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m.finishTurn(msg), nil

	case CommandDoneMsg:
		if msg.Err != nil {
			m.add(entry{role: roleError, text: msg.Err.Error()})
		} else {
			m.add(entry{role: roleSystem, text: msg.Output})
		}
		return m, nil

	case RelayMsg:
		m.add(entry{role: roleReport, label: "report from " + msg.AgentID, text: msg.Text})
		return m, nil

	case QuitMsg:
		m.stop()
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelRequest("Request cancelled.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if value == "" {
			return m, nil
		}
		return m.handleSubmit(value)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if strings.HasPrefix(value, "/") {
		name, arg, _ := strings.Cut(value, " ")
		return m.handleSlashCommand(name, strings.TrimSpace(arg))
	}
	if m.waiting {
		m.add(entry{role: roleSystem, text: "A reply is still streaming; wait for it or /cancel."})
		return m, nil
	}

	m.add(entry{role: roleUser, text: value})

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel
	m.waiting = true
	m.partial = ""
	m.events = startTurn(ctx, m.deps.Session, value, m.gen)

	return m, tea.Batch(waitForTurn(m.events), m.spinner.Tick)
}

// startTurn runs one orchestrator turn in the background. Deltas and the
// final result arrive on the returned channel, which is closed afterwards.
func startTurn(ctx context.Context, s Session, text string, gen uint64) <-chan tea.Msg {
	events := make(chan tea.Msg, 16)
	emit := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(events)
		res, err := s.Chat(ctx, text, func(d domain.StreamDelta) {
			if d.Content != "" {
				emit(DeltaMsg{Text: d.Content, Gen: gen})
			}
		})
		emit(TurnDoneMsg{Result: res, Err: err, Gen: gen})
	}()
	return events
}

// waitForTurn reads the next message of a running turn.
func waitForTurn(events <-chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func (m Model) finishTurn(msg TurnDoneMsg) Model {
	partial := m.partial
	m.stop()
	switch {
	case errors.Is(msg.Err, context.Canceled):
		// reported by cancelRequest
	case msg.Err != nil:
		m.add(entry{role: roleError, text: msg.Err.Error()})
	case msg.Result != nil:
		text := msg.Result.Text
		if text == "" {
			text = partial
		}
		if text != "" {
			m.add(entry{role: roleAssistant, text: text})
		}
		for _, call := range msg.Result.AwaitingConfirmation {
			m.add(entry{role: roleSystem, text: fmt.Sprintf("pending %s(%s) id=%s: /approve or /deny it",
				call.Name, string(call.Arguments), call.ID)})
		}
	}
	return m
}

// cancelRequest abandons the running turn and notes it in the transcript.
func (m *Model) cancelRequest(reason string) {
	m.stop()
	m.gen++
	m.add(entry{role: roleSystem, text: reason})
}

func (m *Model) stop() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.waiting = false
	m.partial = ""
	m.events = nil
}

func (m *Model) add(e entry) {
	m.entries = append(m.entries, e)
	m.refresh()
}

// View renders the transcript, the spinner line and the input.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "  Initializing..."
	}
	header := headerStyle.Render("conclave · session " + m.deps.SessionID)
	status := mutedText.Render("/help for commands · ctrl+c to cancel or quit")
	if m.waiting {
		status = m.spinner.View() + " thinking..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), status, m.input.View())
}

func (m *Model) layout() {
	const chrome = 3 // header, status and input lines
	h := max(m.height-chrome, 1)
	if !m.ready {
		m.viewport = viewport.New(m.width, h)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = h
	}
	m.input.Width = max(m.width-4, 10)
	m.renderer = nil
	for i := range m.entries {
		m.entries[i].rendered = ""
	}
	m.refresh()
}

// refresh re-renders the transcript, following the bottom unless the user
// scrolled up.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	var sb strings.Builder
	for i := range m.entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderEntry(&m.entries[i]))
	}
	if m.partial != "" {
		sb.WriteString("\n" + botLabel.Render("assistant") + "\n" + m.wrap(m.partial))
	}
	m.viewport.SetContent(sb.String())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderEntry(e *entry) string {
	switch e.role {
	case roleUser:
		return userLabel.Render("you") + "\n" + m.wrap(e.text)
	case roleAssistant:
		if e.rendered == "" {
			e.rendered = strings.TrimSpace(m.markdown(e.text))
		}
		return botLabel.Render("assistant") + "\n" + e.rendered
	case roleReport:
		return reportLabel.Render(e.label) + "\n" + m.wrap(e.text) + "\n" + mutedText.Render(relayNote)
	case roleError:
		return errorText.Render(m.wrap("error: " + e.text))
	default:
		return mutedText.Render(m.wrap(e.text))
	}
}

func (m *Model) wrap(s string) string {
	return lipgloss.NewStyle().Width(max(m.width-2, 20)).Render(s)
}

// markdown renders s with glamour, falling back to plain wrapping.
func (m *Model) markdown(s string) string {
	if m.renderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		if err != nil {
			m.deps.Logger.Debug("markdown renderer unavailable", "error", err)
			return m.wrap(s)
		}
		m.renderer = r
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return m.wrap(s)
	}
	return out
}
