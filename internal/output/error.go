package output

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// ErrorOutput represents a structured error for JSON output.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// ErrorsOutput is the JSON form of a validation result with several errors.
type ErrorsOutput struct {
	Errors []ErrorDetail `json:"errors"`
}

// Detail converts an error to its display form. Errors that are not
// HarvestErrors are reported as GENERAL_ERROR.
func Detail(err error) ErrorDetail {
	var he *harvesterr.HarvestError
	if errors.As(err, &he) {
		return ErrorDetail{
			Code:       he.Code,
			Message:    he.Message,
			Details:    he.Details,
			Suggestion: he.Suggestion,
			ExitCode:   he.ExitCode,
		}
	}
	return ErrorDetail{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		ExitCode: harvesterr.ExitGeneral,
	}
}

// FormatError formats an error for display.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}

	d := Detail(err)
	if format == FormatJSON {
		return WriteJSON(w, ErrorOutput{Error: d})
	}
	_, writeErr := io.WriteString(w, renderErrorText(d))
	return writeErr
}

// FormatErrors formats every error of a validation result. An empty list
// writes nothing.
func FormatErrors(w io.Writer, list []error, format Format) error {
	if len(list) == 0 {
		return nil
	}

	details := make([]ErrorDetail, 0, len(list))
	for _, err := range list {
		details = append(details, Detail(err))
	}

	if format == FormatJSON {
		return WriteJSON(w, ErrorsOutput{Errors: details})
	}

	var sb strings.Builder
	for i, d := range details {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(renderErrorText(d))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// renderErrorText renders one error with its details sorted by key.
func renderErrorText(d ErrorDetail) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", d.Message))

	if len(d.Details) > 0 {
		keys := make([]string, 0, len(d.Details))
		for k := range d.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, d.Details[k]))
		}
	}

	if d.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\nSuggestion: %s\n", d.Suggestion))
	}
	return sb.String()
}

// FormatSuccess formats a success message.
func FormatSuccess(w io.Writer, message string, format Format) error {
	if format == FormatJSON {
		return WriteJSON(w, map[string]string{"status": "success", "message": message})
	}
	_, err := fmt.Fprintln(w, message)
	return err
}
