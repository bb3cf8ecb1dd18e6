package tui

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/realtime"
)

// Printer writes command output. Styling is dropped when out is not a
// terminal or NO_COLOR is set.
type Printer struct {
	out      io.Writer
	errOut   io.Writer
	renderer *lipgloss.Renderer
	plain    bool
}

func NewPrinter(out, errOut io.Writer) *Printer {
	o := termenv.NewOutput(out)
	p := &Printer{
		out:      out,
		errOut:   errOut,
		renderer: lipgloss.NewRenderer(out),
		plain:    o.Profile == termenv.Ascii || o.EnvNoColor(),
	}
	if p.plain {
		p.renderer.SetColorProfile(termenv.Ascii)
	}
	return p
}

func (p *Printer) Plain() bool { return p.plain }

func (p *Printer) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Renderer(p.renderer).Render(text)
}

func (p *Printer) Header(title string) {
	if p.plain {
		fmt.Fprintf(p.out, "%s\n\n", title)
		return
	}
	fmt.Fprintln(p.out, p.render(StyleHeader, title))
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.render(StyleSuccess, "✓ "+fmt.Sprintf(format, args...)))
}

func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.errOut, p.render(StyleWarning, "! "+fmt.Sprintf(format, args...)))
}

func (p *Printer) Error(err error) {
	fmt.Fprintln(p.errOut, p.render(StyleError, "✗ "+FormatError(err)))
}

// Field prints an indented "label: value" line.
func (p *Printer) Field(label, value string) {
	if value == "" {
		value = p.render(StyleMuted, "-")
	}
	fmt.Fprintf(p.out, "  %s %s\n", p.render(StyleLabel, label+":"), value)
}

func (p *Printer) Hint(format string, args ...any) {
	fmt.Fprintln(p.out, p.render(StyleSubtle, fmt.Sprintf(format, args...)))
}

func (p *Printer) Table(headers ...string) *Table {
	return NewTableWithWriter(p.out, headers)
}

// FormatError turns request failures into messages for people.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var replyErr *realtime.ReplyError
	if errors.As(err, &replyErr) {
		return "Server rejected the request: " + replyErr.Message
	}
	if errors.Is(err, realtime.ErrDisconnected) {
		return "Lost the realtime connection to the server."
	}

	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	switch apiErr.Kind {
	case apiclient.KindNetwork:
		return "Cannot reach the Lanna server. Check the server address and your connection."
	case apiclient.KindTimeout:
		return "The request timed out. Try again."
	case apiclient.KindCanceled:
		return "Request canceled."
	case apiclient.KindAuthExpired:
		return "Your session has expired. Sign in again."
	case apiclient.KindUnauthorized:
		return "Not authorized: " + apiErr.Message
	case apiclient.KindNotFound:
		return "Not found: " + apiErr.Message
	case apiclient.KindValidation:
		return validationMessage(apiErr)
	default:
		return "Server error: " + apiErr.Message
	}
}

func validationMessage(e *apiclient.Error) string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			if msg == e.Message || strings.HasPrefix(e.Message, field) {
				return fmt.Sprintf("%s: %s", field, msg)
			}
		}
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(e.Message)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s: %s", name, e.Fields[name])
	}
	return b.String()
}
