// Package display prints focus changes and resolved menus for people or
// for scripts.
package display

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"wfmenu/internal/menubus"
	"wfmenu/internal/wayfire"
)

// Options configures a Printer.
type Options struct {
	// Format is "text" or "json".
	Format string
	// Color is "auto", "always" or "never". Ignored for JSON.
	Color string
}

// Printer writes one line per focus change or menu result. It is safe for
// use from the session goroutine and the menu worker at the same time.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	json   bool
	enc    *json.Encoder
	color  bool
	styles styles
}

type styles struct {
	kind    lipgloss.Style
	id      lipgloss.Style
	title   lipgloss.Style
	dialect lipgloss.Style
	muted   lipgloss.Style
	err     lipgloss.Style
}

// New creates a printer writing to w.
func New(w io.Writer, opts Options) (*Printer, error) {
	p := &Printer{w: w}

	switch strings.ToLower(opts.Format) {
	case "", "text":
	case "json":
		p.json = true
		p.enc = json.NewEncoder(w)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", opts.Format)
	}

	color, err := colorEnabled(opts.Color, w)
	if err != nil {
		return nil, err
	}
	p.color = color
	if color {
		r := lipgloss.NewRenderer(w, termenv.WithProfile(termenv.ANSI256))
		r.SetColorProfile(termenv.ANSI256)
		p.styles = styles{
			kind:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
			id:      r.NewStyle().Foreground(lipgloss.Color("244")),
			title:   r.NewStyle().Bold(true),
			dialect: r.NewStyle().Foreground(lipgloss.Color("10")),
			muted:   r.NewStyle().Faint(true),
			err:     r.NewStyle().Foreground(lipgloss.Color("9")),
		}
	}
	return p, nil
}

func colorEnabled(mode string, w io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "", "auto":
		if os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		f, ok := w.(interface{ Fd() uintptr })
		return ok && term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown color mode: %s", mode)
	}
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

type focusRecord struct {
	Event string        `json:"event"`
	View  *wayfire.View `json:"view"`
}

type menuRecord struct {
	Event  string         `json:"event"`
	ViewID wayfire.ViewID `json:"view_id"`
	Menu   *menubus.Menu  `json:"menu,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// FocusChanged implements wayfire.FocusSink.
func (p *Printer) FocusChanged(v *wayfire.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		p.enc.Encode(focusRecord{Event: "focus", View: v})
		return
	}

	kind := p.render(p.styles.kind, "focus")
	if v == nil {
		fmt.Fprintf(p.w, "%s %s\n", kind, p.render(p.styles.muted, "none"))
		return
	}

	title := "(untitled)"
	if v.Title != nil && *v.Title != "" {
		title = *v.Title
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		kind,
		p.render(p.styles.id, fmt.Sprintf("#%d", v.ID)),
		p.render(p.styles.title, title),
		p.render(p.styles.dialect, "["+v.Dialect().String()+"]"),
	)
}

// MenuResolved prints the outcome of a menu lookup. It matches
// menubus.MenuFunc.
func (p *Printer) MenuResolved(v *wayfire.View, m *menubus.Menu, err error) {
	if v == nil {
		// Focus left all views; FocusChanged already said so.
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		rec := menuRecord{Event: "menu", ViewID: v.ID, Menu: m}
		if err != nil {
			rec.Error = err.Error()
		}
		p.enc.Encode(rec)
		return
	}

	kind := p.render(p.styles.kind, "menu ")
	id := p.render(p.styles.id, fmt.Sprintf("#%d", v.ID))
	switch {
	case errors.Is(err, menubus.ErrNoMenu):
		fmt.Fprintf(p.w, "%s %s %s\n", kind, id, p.render(p.styles.muted, "no menu"))
	case err != nil:
		fmt.Fprintf(p.w, "%s %s %s\n", kind, id, p.render(p.styles.err, "error: "+err.Error()))
	default:
		labels := make([]string, 0, len(m.Items))
		for _, l := range m.Labels() {
			labels = append(labels, stripMnemonic(l))
		}
		fmt.Fprintf(p.w, "%s %s %s %s\n",
			kind, id,
			p.render(p.styles.dialect, "["+m.Dialect+"]"),
			strings.Join(labels, " | "),
		)
	}
}

// stripMnemonic removes single underscores that mark access keys. A doubled
// underscore stands for a literal one.
func stripMnemonic(label string) string {
	if !strings.Contains(label, "_") {
		return label
	}
	var b strings.Builder
	for i := 0; i < len(label); i++ {
		if label[i] == '_' {
			if i+1 < len(label) && label[i+1] == '_' {
				b.WriteByte('_')
				i++
			}
			continue
		}
		b.WriteByte(label[i])
	}
	return b.String()
}
