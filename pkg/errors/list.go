package errors

import (
	"errors"
	"strings"
)

// ErrorList accumulates validation failures so every violation can be shown at once.
// An empty list means the validation passed.
type ErrorList []*HarvestError

// Add appends err to the list. Plain errors are wrapped as internal errors.
// A HarvestError wrapped by fmt.Errorf keeps its code and gains the wrapping
// text in its message; the shared value itself is never modified.
func (l *ErrorList) Add(err error) {
	if err == nil {
		return
	}
	var he *HarvestError
	if errors.As(err, &he) {
		if error(he) != err {
			he = withContext(he, err)
		}
		*l = append(*l, he)
		return
	}
	*l = append(*l, &HarvestError{
		Code:     CodeInternalError,
		Message:  err.Error(),
		Cause:    err,
		ExitCode: ExitGeneral,
	})
}

// withContext copies he, adding the text err wraps around it.
func withContext(he *HarvestError, err error) *HarvestError {
	c := *he
	prefix, ok := strings.CutSuffix(err.Error(), he.Error())
	switch {
	case ok && strings.HasSuffix(prefix, ": "):
		c.Message = prefix + he.Message
	case !ok || prefix != "":
		c.Cause = err
	}
	return &c
}

// Extend appends every entry of other.
func (l *ErrorList) Extend(other ErrorList) {
	*l = append(*l, other...)
}

// Empty reports whether no errors were collected.
func (l ErrorList) Empty() bool {
	return len(l) == 0
}

// Has reports whether an entry with the given code exists.
func (l ErrorList) Has(code string) bool {
	for _, e := range l {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the codes in insertion order.
func (l ErrorList) Codes() []string {
	codes := make([]string, 0, len(l))
	for _, e := range l {
		codes = append(codes, e.Code)
	}
	return codes
}

// First returns the first entry or nil.
func (l ErrorList) First() *HarvestError {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

// Err returns nil for an empty list, the single error for one entry,
// and a joined error otherwise.
func (l ErrorList) Err() error {
	switch len(l) {
	case 0:
		return nil
	case 1:
		return l[0]
	}
	errs := make([]error, 0, len(l))
	for _, e := range l {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

func (l ErrorList) Error() string {
	msgs := make([]string, 0, len(l))
	for _, e := range l {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
