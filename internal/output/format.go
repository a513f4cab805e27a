// Package output renders command results as text, markdown, JSON or TOON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	toon "github.com/toon-format/toon-go"
)

// Format names an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatTOON     Format = "toon"
)

var formatNames = map[string]Format{
	"text":     FormatText,
	"json":     FormatJSON,
	"markdown": FormatMarkdown,
	"md":       FormatMarkdown,
	"toon":     FormatTOON,
}

// ParseFormat maps a name to a Format. Unknown names yield FormatText.
func ParseFormat(s string) Format {
	if f, ok := formatNames[strings.ToLower(s)]; ok {
		return f
	}
	return FormatText
}

// Valid reports whether s names a known format.
func Valid(s string) bool {
	_, ok := formatNames[strings.ToLower(s)]
	return ok
}

// Renderable is a result that knows its text and markdown layouts.
// JSON and TOON encode RenderData.
type Renderable interface {
	RenderText(w io.Writer, colored bool) error
	RenderMarkdown(w io.Writer) error
	RenderData() any
}

// Formatter writes results and status messages to one writer.
type Formatter struct {
	format  Format
	w       io.Writer
	colored bool
}

// New returns a formatter writing format to w.
func New(format Format, w io.Writer, colored bool) *Formatter {
	return &Formatter{format: format, w: w, colored: colored}
}

// Output writes v. Values that are not Renderable are encoded as JSON in
// the text and markdown formats.
func (f *Formatter) Output(v any) error {
	r, ok := v.(Renderable)
	switch {
	case f.format == FormatJSON && ok:
		return f.json(r.RenderData())
	case f.format == FormatTOON && ok:
		return f.toon(r.RenderData())
	case f.format == FormatMarkdown && ok:
		return r.RenderMarkdown(f.w)
	case ok:
		return r.RenderText(f.w, f.colored)
	case f.format == FormatTOON:
		return f.toon(v)
	case f.format == FormatMarkdown:
		fmt.Fprintln(f.w, "```json")
		if err := f.json(v); err != nil {
			return err
		}
		_, err := fmt.Fprintln(f.w, "```")
		return err
	default:
		return f.json(v)
	}
}

func (f *Formatter) json(v any) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (f *Formatter) toon(v any) error {
	out, err := MarshalTOON(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f.w, out)
	return err
}

// MarshalTOON encodes v as TOON with two-space indentation.
func MarshalTOON(v any) (string, error) {
	out, err := toon.Marshal(v, toon.WithIndent(2))
	if err != nil {
		return "", fmt.Errorf("encode toon: %w", err)
	}
	return string(out), nil
}

type level struct {
	prefix string
	attr   color.Attribute
}

var (
	levelSuccess = level{"", color.FgGreen}
	levelInfo    = level{"", color.FgCyan}
	levelWarning = level{"WARNING: ", color.FgYellow}
	levelError   = level{"ERROR: ", color.FgRed}
)

// say writes one message line. Plain output carries a prefix in place of
// the color.
func (f *Formatter) say(l level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if f.colored {
		color.New(l.attr).Fprintln(f.w, msg)
		return
	}
	fmt.Fprintln(f.w, l.prefix+msg)
}

func (f *Formatter) Success(format string, args ...any) { f.say(levelSuccess, format, args...) }
func (f *Formatter) Info(format string, args ...any)    { f.say(levelInfo, format, args...) }
func (f *Formatter) Warning(format string, args ...any) { f.say(levelWarning, format, args...) }
func (f *Formatter) Error(format string, args ...any)   { f.say(levelError, format, args...) }

// StatusColor colors text by a stage status or letter grade. It honors
// color.NoColor.
func StatusColor(status, text string) string {
	switch strings.ToUpper(status) {
	case "FAIL", "D", "F":
		return color.RedString(text)
	case "WARN", "C":
		return color.YellowString(text)
	case "PASS", "A", "B":
		return color.GreenString(text)
	}
	return text
}
