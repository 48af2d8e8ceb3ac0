// Package classify decides whether a failure is worth retrying.
//
// Failures are tagged either Permanent (credential, account or UI-structure
// problems: retrying cannot help) or Temporary (network, timing or
// transient-UI problems: retrying may help). Unrecognized failures default
// to Temporary so an account is never discarded on an unknown error.
package classify

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	Temporary Kind = iota
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "temporary"
}

// A pattern matches when every fragment appears in the lower-cased error
// text. Permanent patterns are checked before temporary ones.
var permanentPatterns = [][]string{
	// credential / auth failures
	{"invalid", "credentials"},
	{"incorrect", "password"},
	{"wrong", "password"},
	{"incorrect", "credentials"},
	{"authentication", "failed"},
	{"login", "failed"},
	{"access", "denied"},
	{"forbidden"},
	{"unauthorized"},
	{"401"},
	{"403"},
	// account-level blocks
	{"account", "disabled"},
	{"account", "suspended"},
	{"account", "banned"},
	{"account", "locked"},
	// structural problems: the page no longer looks like we expect
	{"invalid", "selector"},
	{"malformed", "url"},
	{"element", "not", "found"},
	{"selector", "not", "found"},
	{"ui", "might", "have", "changed"},
}

var temporaryPatterns = [][]string{
	{"net::err_"},
	{"timeout"},
	{"timed out"},
	{"load", "failed"},
	{"navigation", "failed"},
	{"page", "crashed"},
	{"connection", "refused"},
	{"connection", "reset"},
	{"host", "unreachable"},
	{"failed", "fetch"},
	{"network", "error"},
	{"502"},
	{"503"},
	{"504"},
	{"slow", "down"},
	{"target", "closed"},
	{"browser", "disconnected"},
	{"context", "disposed"},
	{"execution context", "destroyed"},
}

func matchAny(text string, patterns [][]string) bool {
	for _, p := range patterns {
		all := true
		for _, frag := range p {
			if !strings.Contains(text, frag) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Classify maps raw error text to a Kind. Pure; no side effects.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	if matchAny(lower, permanentPatterns) {
		return Permanent
	}
	if matchAny(lower, temporaryPatterns) {
		return Temporary
	}
	// Unknown failures are retried rather than written off.
	return Temporary
}

// Error is a failure tagged with its retry classification.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Msg != "" {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Permanentf builds a Permanent-tagged error.
func Permanentf(format string, args ...any) error {
	return &Error{Kind: Permanent, Msg: fmt.Sprintf(format, args...)}
}

// Temporaryf builds a Temporary-tagged error.
func Temporaryf(format string, args ...any) error {
	return &Error{Kind: Temporary, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with the classification derived from its text. Already
// tagged errors keep their tag.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: Classify(err.Error()), Cause: err}
}

// KindOf returns the error's explicit tag when present, otherwise the
// classification of its text. A nil error is Temporary by definition.
func KindOf(err error) Kind {
	if err == nil {
		return Temporary
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Classify(err.Error())
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool { return err != nil && KindOf(err) == Permanent }

func containsAny(text string, words ...string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// IsLoginError reports whether the error text points at a login problem.
func IsLoginError(text string) bool {
	return containsAny(text, "password", "credential", "login", "auth", "incorrect")
}

// IsNetworkError reports whether the error text points at a network problem.
func IsNetworkError(text string) bool {
	return containsAny(text, "timeout", "net::err_", "connection refused", "connection reset",
		"host unreachable", "502", "503", "504", "network error")
}

// IsTimeoutError reports whether the error text is specifically a timeout.
func IsTimeoutError(text string) bool {
	return containsAny(text, "timeout", "timed out", "deadline exceeded")
}

// IsElementNotFound reports whether the error text says an element is missing.
func IsElementNotFound(text string) bool {
	return containsAny(text, "element not found", "selector not found", "could not find",
		"cannot find element", "does not exist")
}
