package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"VoidChat/internal/backend"
	"VoidChat/internal/config"
	"VoidChat/internal/conversation"
	"VoidChat/internal/session"
)

type styles struct {
	header lipgloss.Style
	user   lipgloss.Style
	model  lipgloss.Style
	err    lipgloss.Style
	active lipgloss.Style
	muted  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		user:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		model:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		err:    r.NewStyle().Foreground(lipgloss.Color("196")),
		active: r.NewStyle().Bold(true),
		muted:  r.NewStyle().Faint(true),
	}
}

// REPL is the terminal presentation layer.
type REPL struct {
	in     io.Reader
	out    io.Writer
	ctrl   *conversation.Controller
	models backend.ModelLister // nil unless the backend can list models
	model  string
	logger *slog.Logger
	style  styles

	mu      sync.Mutex
	printed int // bytes of the in-flight reply already written
	list    []session.Summary
	shown   []session.Summary // list as last printed by /history
}

var _ conversation.Presenter = (*REPL)(nil)

func newREPL(in io.Reader, out io.Writer, logger *slog.Logger) *REPL {
	return &REPL{
		in:     in,
		out:    out,
		logger: logger,
		style:  newStyles(lipgloss.NewRenderer(out)),
	}
}

// SessionLoaded prints the session header and its history, or the welcome
// line for an empty session.
func (r *REPL) SessionLoaded(s session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printed = 0
	fmt.Fprintf(r.out, "\n%s\n", r.style.header.Render("=== "+s.Title+" ==="))
	if len(s.History) == 0 {
		fmt.Fprintf(r.out, "%s\n\n", r.style.muted.Render(config.WelcomeMessage))
		return
	}
	for _, m := range s.History {
		fmt.Fprintf(r.out, "%s %s\n", r.label(m.Role), m.Text())
	}
	fmt.Fprintln(r.out)
}

func (r *REPL) label(role session.Role) string {
	if role == session.RoleUser {
		return r.style.user.Render("You:")
	}
	return r.style.model.Render("Void:")
}

// HistoryChanged keeps the latest session list for /history. It prints nothing.
func (r *REPL) HistoryChanged(list []session.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = list
}

// UserMessage is a no-op: the terminal already echoes typed input.
func (r *REPL) UserMessage(string, string) {}

// Partial prints the part of the reply not yet on screen.
func (r *REPL) Partial(_, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeSuffixLocked(text)
}

func (r *REPL) writeSuffixLocked(text string) {
	if r.printed == 0 {
		fmt.Fprintf(r.out, "%s ", r.label(session.RoleModel))
	}
	if len(text) > r.printed {
		io.WriteString(r.out, text[r.printed:])
		r.printed = len(text)
	}
}

// ModelMessage finishes the reply line.
func (r *REPL) ModelMessage(_, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeSuffixLocked(text)
	fmt.Fprint(r.out, "\n\n")
	r.printed = 0
}

// Error prints message inline, ending any partially printed reply.
func (r *REPL) Error(_, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.printed > 0 {
		fmt.Fprintln(r.out)
	}
	fmt.Fprintf(r.out, "%s\n\n", r.style.err.Render(message))
	r.printed = 0
}

// StateChanged only logs: the prompt is redrawn when Submit returns.
func (r *REPL) StateChanged(state conversation.State) {
	r.logger.Debug("state changed", "state", state.String())
}

func (r *REPL) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// resolve maps a 1-based index from the last /history listing, or a raw id,
// to a session id. Later list updates do not renumber what was printed.
func (r *REPL) resolve(arg string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(r.shown) {
		return r.shown[n-1].ID
	}
	return arg
}

// handleCommand handles special commands
func (r *REPL) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		return false, r.ctrl.NewChat(ctx)

	case "/history":
		r.mu.Lock()
		defer r.mu.Unlock()
		r.shown = r.list
		fmt.Fprintln(r.out, "\nSessions:")
		for i, s := range r.shown {
			line := fmt.Sprintf("%d. %s (%d messages)", i+1, s.Title, s.MessageCount)
			if s.Active {
				line = r.style.active.Render("* " + line)
			} else {
				line = "  " + line
			}
			fmt.Fprintln(r.out, line)
		}
		fmt.Fprintln(r.out)
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <n|id>")
		}
		return false, r.ctrl.Switch(ctx, r.resolve(parts[1]))

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <n|id>")
		}
		return false, r.ctrl.Delete(ctx, r.resolve(parts[1]))

	case "/models":
		if r.models == nil {
			return false, fmt.Errorf("model listing is only available for the %s backend", config.BackendOllama)
		}
		models, err := r.models.ListModels(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list models: %w", err)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		fmt.Fprintln(r.out, "\nAvailable models:")
		for i, m := range models {
			sizeGB := float64(m.Size) / (1024 * 1024 * 1024)
			current := ""
			if m.Name == r.model {
				current = " (current)"
			}
			fmt.Fprintf(r.out, "%d. %s - %.2f GB%s\n", i+1, m.Name, sizeGB, current)
		}
		fmt.Fprintln(r.out)
		return false, nil

	case "/help":
		r.printf("%s", `Available commands:
  /new             - Start a new chat
  /history         - List sessions (* marks the active one)
  /switch <n|id>   - Switch to a session by list number or id
  /delete <n|id>   - Delete a session by list number or id
  /models          - List models available on the backend
  /help            - Show this help message
  /quit, /exit     - Exit
`)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// Run reads lines until EOF, /quit or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	r.printf("Type /help for commands, /quit to exit\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.printf("%s ", r.label(session.RoleUser))

		var input string
		select {
		case <-ctx.Done():
			r.printf("\nGoodbye!\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				r.printf("\nGoodbye!\n")
				return nil
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := r.handleCommand(ctx, input)
			if err != nil {
				r.printf("%s\n", r.style.err.Render("Error: "+err.Error()))
				r.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				r.printf("Goodbye!\n")
				return nil
			}
			continue
		}

		err := r.ctrl.Submit(ctx, input)
		if err != nil && !errors.Is(err, conversation.ErrStreamFailed) {
			r.printf("%s\n", r.style.err.Render("Error: "+err.Error()))
			r.logger.Error("failed to send message", "error", err)
		}
	}
}
