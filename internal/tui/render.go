package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/relay/internal/stream"
)

// Nodes whose entry is shown as a dim marker rather than a header.
var quietNodes = map[string]bool{
	"router": true,
	"tools":  true,
}

// Renderer writes stream events to a terminal. Agent and formatter tokens
// are printed as they arrive under a header naming the node.
type Renderer struct {
	mu sync.Mutex
	w  io.Writer

	headerStyle lipgloss.Style
	dimStyle    lipgloss.Style
	errorStyle  lipgloss.Style

	agentTokens bool
	node        string
	midLine     bool
	failed      bool
}

// RenderOption configures a Renderer.
type RenderOption func(*Renderer)

// WithAgentTokens controls whether agent tokens are shown. Formatter tokens
// are always shown.
func WithAgentTokens(show bool) RenderOption {
	return func(r *Renderer) {
		r.agentTokens = show
	}
}

// NewRenderer creates a Renderer writing to w. Styles degrade to plain text
// when w is not a terminal.
func NewRenderer(w io.Writer, opts ...RenderOption) *Renderer {
	lr := lipgloss.NewRenderer(w)
	r := &Renderer{
		w: w,
		headerStyle: lr.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")), // Blue
		dimStyle: lr.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray
		errorStyle: lr.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")), // Red
		agentTokens: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes one event.
func (r *Renderer) Render(ev stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case stream.EventConversation:
		fmt.Fprintln(r.w, r.dimStyle.Render("conversation "+ev.Content))

	case stream.EventNodeEntered:
		r.endLine()
		r.node = ev.Content
		if quietNodes[ev.Content] {
			fmt.Fprintln(r.w, r.dimStyle.Render("· "+ev.Content))
			return
		}
		if ev.Content == "formatter" || r.agentTokens {
			fmt.Fprintln(r.w, r.headerStyle.Render("▸ "+ev.Content))
		}

	case stream.EventToken:
		if ev.Node != "formatter" && !r.agentTokens {
			return
		}
		fmt.Fprint(r.w, ev.Content)
		r.midLine = ev.Content != "" && ev.Content[len(ev.Content)-1] != '\n'

	case stream.EventToolCall:
		r.endLine()
		glyph := color.New(color.FgGreen).Sprint("✓")
		if ev.IsError {
			glyph = color.New(color.FgRed).Sprint("✗")
		}
		fmt.Fprintf(r.w, "  %s %s(%s) %s %s\n", glyph, ev.Tool, renderArgs(ev.Args), r.dimStyle.Render("->"), ev.Result)

	case stream.EventError:
		r.endLine()
		r.failed = true
		fmt.Fprintln(r.w, r.errorStyle.Render("✗ error: ")+ev.Content)

	case stream.EventDone:
		r.endLine()
	}
}

// Failed reports whether an error event was rendered.
func (r *Renderer) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *Renderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.w)
		r.midLine = false
	}
}

func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "?"
	}
	return string(b)
}
