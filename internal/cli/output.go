package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/jmylchreest/flaxplug/internal/plugin"
)

const (
	defaultWidth = 80
	barWidth     = 24
)

// styles colours status words.
type styles struct {
	ok     *color.Color
	warn   *color.Color
	fail   *color.Color
	faint  *color.Color
	header *color.Color
}

func newStyles(enabled bool) *styles {
	s := &styles{
		ok:     color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		fail:   color.New(color.FgRed, color.Bold),
		faint:  color.New(color.Faint),
		header: color.New(color.Bold),
	}
	for _, c := range []*color.Color{s.ok, s.warn, s.fail, s.faint, s.header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// sprint adapts a colour to a table style.
func sprint(c *color.Color) func(string) string {
	return func(s string) string { return c.Sprint(s) }
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			return cols
		}
	}
	return defaultWidth
}

// progressPrinter renders manager events. On a terminal the progress bar is
// redrawn in place; otherwise only outcome lines are written.
type progressPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	styles *styles
	quiet  bool
	live   bool
	width  int
	drawn  bool

	failed []plugin.Event
}

func newProgressPrinter(w io.Writer, st *styles, quiet bool) *progressPrinter {
	return &progressPrinter{
		w:      w,
		styles: st,
		quiet:  quiet,
		live:   !quiet && isTerminal(w),
		width:  terminalWidth(w),
	}
}

// Notify implements plugin.Notifier.
func (p *progressPrinter) Notify(ev plugin.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case plugin.EventProgress:
		if p.live {
			p.draw(ev.Progress)
		}
	case plugin.EventInstalled:
		p.line(p.styles.ok.Sprint("installed"), ev.Plugin, "")
	case plugin.EventRemoved:
		p.line(p.styles.ok.Sprint("removed"), ev.Plugin, "")
	case plugin.EventUpdated:
		p.line(p.styles.ok.Sprint("updated"), ev.Plugin, "")
	case plugin.EventUpdateAvailable:
		p.line(p.styles.warn.Sprint("update available"), ev.Plugin, "")
	case plugin.EventFailed:
		p.failed = append(p.failed, ev)
		detail := ""
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		p.forceLine(p.styles.fail.Sprint("failed"), ev.Plugin, detail)
	case plugin.EventSyncFinished:
		p.clear()
	}
}

// Failures returns the failure events seen so far.
func (p *progressPrinter) Failures() []plugin.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]plugin.Event(nil), p.failed...)
}

func (p *progressPrinter) draw(progress float64) {
	progress = min(max(progress, 0), 1)
	filled := int(progress * barWidth)
	text := fmt.Sprintf("[%s%s] %3.0f%%",
		strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled), progress*100)
	fmt.Fprint(p.w, "\r"+padRight(text, p.width-1))
	p.drawn = true
}

func (p *progressPrinter) clear() {
	if !p.drawn {
		return
	}
	fmt.Fprint(p.w, "\r"+strings.Repeat(" ", p.width-1)+"\r")
	p.drawn = false
}

func (p *progressPrinter) line(status, name, detail string) {
	if p.quiet {
		return
	}
	p.forceLine(status, name, detail)
}

func (p *progressPrinter) forceLine(status, name, detail string) {
	p.clear()
	if detail != "" {
		fmt.Fprintf(p.w, "%s %s: %s\n", status, name, p.styles.faint.Sprint(detail))
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", status, name)
}
