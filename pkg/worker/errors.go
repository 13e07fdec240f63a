package worker

import "strings"

// TransientError marks a handler failure as retry-able: timeouts, 429s,
// 503s, network issues.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a handler failure as non-retry-able: SSRF blocks,
// 404s, invalid URLs, unknown job types.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

var transientSignals = []string{"timeout", "connection", "429", "503", "rate limit"}
var permanentSignals = []string{"404", "not found", "invalid url"}

// classify assigns a kind to an error that escaped a handler unclassified
// (neither *TransientError nor *PermanentError), matching executor.py and
// main.py's substring-based fallback. An error matching neither signal set
// is treated as permanent — an unrecognized failure is not assumed safe to
// retry indefinitely.
func classify(err error) error {
	if _, ok := err.(*TransientError); ok {
		return err
	}
	if _, ok := err.(*PermanentError); ok {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientSignals {
		if strings.Contains(msg, s) {
			return &TransientError{Err: err}
		}
	}
	for _, s := range permanentSignals {
		if strings.Contains(msg, s) {
			return &PermanentError{Err: err}
		}
	}
	return &PermanentError{Err: err}
}
