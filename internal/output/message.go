package output

import (
	"encoding/json"
	"fmt"
)

// warning is the JSON form of a diagnostic line.
type warning struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Warn writes a diagnostic to the formatter's diagnostics writer. JSON
// output gets one compact object per line.
func (f *Formatter) Warn(msg string) {
	if f.format == FormatJSON {
		line, err := json.Marshal(warning{Level: "warning", Message: msg})
		if err == nil {
			_, _ = fmt.Fprintln(f.diag, string(line))
		}
		return
	}
	_, _ = fmt.Fprintln(f.diag, "warning: "+msg)
}

// Warnf is Warn with a format string.
func (f *Formatter) Warnf(format string, args ...any) {
	f.Warn(fmt.Sprintf(format, args...))
}
