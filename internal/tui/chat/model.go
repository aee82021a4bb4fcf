// Package chat is the interactive terminal surface: a conversational REPL
// over the session service with slash commands for mode, references,
// clipboard and cancellation.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-ai/parley/internal/clip"
	"github.com/parley-ai/parley/internal/control"
	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/plan"
	"github.com/parley-ai/parley/internal/service"
)

// Options wires the chat surface to the running application.
type Options struct {
	Service *service.SessionService
	Session *service.Session
	Bus     *events.EventBus
	// Export writes a session snapshot to a path; nil disables /export.
	Export  func(ctx context.Context, path string) error
	Version string
}

type turnDoneMsg struct {
	res core.TurnResult
	err error
}

type busEventMsg struct {
	event events.Event
}

// Model is the bubbletea model for the chat surface.
type Model struct {
	svc  *service.SessionService
	sess *service.Session
	ch   <-chan events.Event

	input    textarea.Model
	spin     spinner.Model
	view     viewport.Model
	renderer *glamour.TermRenderer
	registry *CommandRegistry

	export func(ctx context.Context, path string) error

	lines     []string
	lastReply string
	running   bool
	ctrl      *control.Plane
	progress  string
	width     int
	ready     bool
	quitting  bool
}

// New creates the chat model.
func New(opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Message Parley... (/help for commands)"
	ta.Focus()
	ta.Prompt = ""
	ta.CharLimit = 4096
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := Model{
		svc:      opts.Service,
		sess:     opts.Session,
		input:    ta,
		spin:     sp,
		registry: NewCommandRegistry(),
		export:   opts.Export,
	}
	if opts.Bus != nil {
		m.ch = opts.Bus.Subscribe()
	}
	m.addSystem(fmt.Sprintf("parley %s, session %s", opts.Version, shortID(opts.Session.State.ID)))
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, m.spin.Tick}
	if m.ch != nil {
		cmds = append(cmds, waitForEvent(m.ch))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.SetWidth(msg.Width - 4)
		viewHeight := msg.Height - 6
		if viewHeight < 3 {
			viewHeight = 3
		}
		if !m.ready {
			m.view = viewport.New(msg.Width, viewHeight)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = viewHeight
		}
		m.renderer = newMarkdownRenderer(msg.Width - 4)
		m.refreshView()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.running && m.ctrl != nil {
				m.ctrl.Cancel("interrupted")
				m.addSystem("cancelling turn...")
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case turnDoneMsg:
		m.running = false
		m.ctrl = nil
		m.progress = ""
		m.handleResult(msg.res, msg.err)
		return m, nil

	case busEventMsg:
		m.handleEvent(msg.event)
		return m, waitForEvent(m.ch)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var inputCmd, viewCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.view, viewCmd = m.view.Update(msg)
	return m, tea.Batch(inputCmd, viewCmd)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}

	var status string
	if m.running {
		status = statusStyle.Render(fmt.Sprintf("%s %s", m.spin.View(), m.progress))
	} else {
		mode := core.ResolveMode(m.sess.State.Preferences, "")
		status = statusStyle.Render(fmt.Sprintf("mode:%s  refs:%d  turns:%d",
			mode.Mode, m.sess.Registry.Len(), m.sess.State.TurnCount))
	}

	var suggest string
	if input := m.input.Value(); strings.HasPrefix(input, "/") && !m.running {
		if names := m.registry.Suggest(input); len(names) > 0 && len(names) < 8 {
			suggest = statusStyle.Render("  /" + strings.Join(names, "  /"))
		}
	}

	return strings.Join([]string{
		m.view.View(),
		status + suggest,
		inputBorderStyle.Width(m.width - 2).Render(m.input.View()),
	}, "\n")
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.running {
		m.addSystem("a turn is already running; /cancel to stop it")
		return m, nil
	}
	m.input.Reset()

	if cmd, args, ok := m.registry.Parse(text); ok {
		return m.runCommand(cmd, args)
	}

	m.addUser(text)
	m.running = true
	m.progress = "thinking..."
	m.ctrl = control.New()

	svc, sess, ctrl := m.svc, m.sess, m.ctrl
	return m, func() tea.Msg {
		res, err := svc.ExecuteTurn(context.Background(), sess, plan.Conversational(text), text, "", ctrl)
		return turnDoneMsg{res: res, err: err}
	}
}

func (m Model) runCommand(cmd *Command, args []string) (tea.Model, tea.Cmd) {
	if cmd == nil {
		m.addSystem("unknown command; /help lists what's available")
		return m, nil
	}

	switch cmd.Name {
	case "help":
		topic := ""
		if len(args) > 0 {
			topic = args[0]
		}
		m.addSystem(m.registry.Help(topic))

	case "mode":
		if len(args) == 0 {
			mode := core.ResolveMode(m.sess.State.Preferences, "")
			m.addSystem(fmt.Sprintf("mode %s: up to %d parallel steps, %d context turns",
				mode.Mode, mode.MaxParallelSteps, mode.MaxContextTurns))
			break
		}
		next := core.Mode(strings.ToLower(args[0]))
		if !core.ValidMode(next) {
			m.addSystem("mode must be concise, standard or thorough")
			break
		}
		m.sess.State.Preferences.Mode = next
		m.addSystem(fmt.Sprintf("mode set to %s", next))

	case "refs":
		m.addSystem(m.renderRefs(args))

	case "copy":
		if m.lastReply == "" {
			m.addSystem("nothing to copy yet")
			break
		}
		res, err := clip.WriteAll(m.lastReply)
		switch {
		case err != nil:
			m.addError(fmt.Sprintf("copy failed: %v", err))
		case res.Method == clip.MethodFile:
			m.addSystem("clipboard unavailable; reply written to " + res.FilePath)
		default:
			m.addSystem("reply copied (" + string(res.Method) + ")")
		}

	case "cancel":
		if !m.running || m.ctrl == nil {
			m.addSystem("no turn is running")
			break
		}
		m.ctrl.Cancel("user requested cancellation")
		m.addSystem("cancelling turn...")

	case "export":
		if m.export == nil {
			m.addSystem("export is not available in this session")
			break
		}
		if len(args) == 0 {
			m.addSystem("usage: " + cmd.Usage)
			break
		}
		if err := m.export(context.Background(), args[0]); err != nil {
			m.addError(fmt.Sprintf("export failed: %v", err))
		} else {
			m.addSystem("snapshot written to " + args[0])
		}

	case "clear":
		m.lines = nil
		m.refreshView()

	case "quit":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) renderRefs(args []string) string {
	refs := m.sess.Registry.Snapshot()
	if len(refs) == 0 {
		return "no live references"
	}

	if len(args) > 0 {
		needle := strings.ToLower(args[0])
		var filtered []core.EntityRef
		for _, ref := range refs {
			if strings.Contains(strings.ToLower(ref.Token), needle) ||
				strings.Contains(strings.ToLower(ref.Kind), needle) {
				filtered = append(filtered, ref)
			}
		}
		refs = filtered
		if len(refs) == 0 {
			return "no references match " + args[0]
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d reference(s):\n", len(refs))
	for _, ref := range refs {
		fmt.Fprintf(&sb, "  %-24s %-10s last seen turn %d\n", ref.Token, ref.Kind, ref.LastSeenTurn)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Model) handleResult(res core.TurnResult, err error) {
	if err != nil {
		m.addError(fmt.Sprintf("persisting turn failed: %v", err))
	}

	switch res.Status {
	case core.TurnStatusCompleted:
		m.lastReply = res.Reply
		m.addAssistant(res.Reply)
	case core.TurnStatusCancelled:
		m.addSystem("turn cancelled")
		if res.Reply != "" {
			m.addAssistant(res.Reply)
		}
	default:
		m.addError(res.Reply)
	}
}

func (m *Model) handleEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.StepStartedEvent:
		m.progress = fmt.Sprintf("running %s (%s)...", e.StepID, e.Kind)
	case events.StepFinishedEvent:
		m.progress = fmt.Sprintf("%s %s", e.Summary.StepID, e.Summary.Status)
	case events.ContextCondensedEvent:
		m.addSystem(fmt.Sprintf("condensed %d older turns", e.Condensed))
	}
}

func (m *Model) addUser(text string) {
	m.lines = append(m.lines, userStyle.Render("you")+"  "+text)
	m.refreshView()
}

func (m *Model) addAssistant(text string) {
	body := text
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(text); err == nil {
			body = strings.TrimRight(rendered, "\n")
		}
	}
	m.lines = append(m.lines, assistantStyle.Render("parley")+"\n"+body)
	m.refreshView()
}

func (m *Model) addSystem(text string) {
	m.lines = append(m.lines, systemStyle.Render(text))
	m.refreshView()
}

func (m *Model) addError(text string) {
	m.lines = append(m.lines, errorStyle.Render(text))
	m.refreshView()
}

func (m *Model) refreshView() {
	if !m.ready {
		return
	}
	m.view.SetContent(strings.Join(m.lines, "\n\n"))
	m.view.GotoBottom()
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return busEventMsg{event: ev}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
