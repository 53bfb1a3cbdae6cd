// Package output renders Harvest command results as text or JSON.
package output

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format is an output encoding.
type Format string

// Output formats. FormatAuto resolves to text on a terminal and JSON
// everywhere else.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatAuto Format = "auto"
)

// Formatter holds the resolved output format of one invocation. Results go
// to the writer a command passes to Emit; warnings go to the formatter's
// diagnostics writer so they never mix with piped JSON.
type Formatter struct {
	format Format
	diag   io.Writer
}

// NewFormatter returns a formatter for format. A nil diag writes
// warnings to stderr.
func NewFormatter(format Format, diag io.Writer) *Formatter {
	if diag == nil {
		diag = os.Stderr
	}
	return &Formatter{format: format, diag: diag}
}

// Format returns the resolved format.
func (f *Formatter) Format() Format {
	return f.format
}

// Emit writes v to w as indented JSON, or calls text for the text format.
func (f *Formatter) Emit(w io.Writer, v any, text func(io.Writer) error) error {
	if f.format == FormatJSON || text == nil {
		return WriteJSON(w, v)
	}
	return text(w)
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether w is a terminal file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: Fd() fits in int
}

// DetectFormat resolves FormatAuto against w. Explicit formats pass through.
func DetectFormat(w io.Writer, explicit Format) Format {
	switch {
	case explicit != FormatAuto:
		return explicit
	case isTerminal(w):
		return FormatText
	default:
		return FormatJSON
	}
}

// ParseFormat maps a flag value to a format. Unknown values mean auto.
func ParseFormat(s string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatText:
		return f
	default:
		return FormatAuto
	}
}
