package worker

import (
	"errors"
	"testing"
)

func TestClassify_PreservesExplicitTyping(t *testing.T) {
	transient := &TransientError{Err: errors.New("disk full")}
	if _, ok := classify(transient).(*TransientError); !ok {
		t.Error("expected explicit *TransientError to stay transient regardless of message")
	}

	permanent := &PermanentError{Err: errors.New("timeout while parsing")}
	if _, ok := classify(permanent).(*PermanentError); !ok {
		t.Error("expected explicit *PermanentError to stay permanent even with a transient-looking message")
	}
}

func TestClassify_SubstringFallback(t *testing.T) {
	cases := []struct {
		msg       string
		transient bool
	}{
		{"request timeout after 30s", true},
		{"connection refused", true},
		{"received 429 too many requests", true},
		{"upstream returned 503", true},
		{"rate limit exceeded", true},
		{"404 not found", false},
		{"invalid url scheme", false},
		{"completely unrecognized failure", false},
	}

	for _, c := range cases {
		classified := classify(errors.New(c.msg))
		_, isTransient := classified.(*TransientError)
		if isTransient != c.transient {
			t.Errorf("message %q: expected transient=%v, got %v", c.msg, c.transient, isTransient)
		}
	}
}
