package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptConfirmFn asks a yes/no question. Tests replace it.
//
//nolint:gochecknoglobals // Swappable for tests
var promptConfirmFn = promptConfirmation

// promptConfirmation asks the user to confirm on stdin. Non-interactive
// stdin counts as a no.
func promptConfirmation(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // G115: Fd() fits in int
		return false
	}
	return readConfirmation(os.Stdin, os.Stderr, prompt)
}

// readConfirmation writes prompt to w and reads one answer from r.
func readConfirmation(r io.Reader, w io.Writer, prompt string) bool {
	out(w, "%s [y/N]: ", prompt)

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	response := strings.ToLower(strings.TrimSpace(line))
	return response == "y" || response == "yes"
}
