package redact

import "testing"

func TestString(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"api key assignment", "failed request: api_key=sk_live_abc123", "failed request: [REDACTED]"},
		{"bearer token", "sent Authorization: Bearer abcdef123", "sent Authorization: Bearer [REDACTED]"},
		{"cookie header", "Cookie: session=xyz; other=1", "Cookie: [REDACTED]"},
		{"clean string", "connection refused to upstream host", "connection refused to upstream host"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := String(c.input); got != c.want {
				t.Errorf("String(%q) = %q, want %q", c.input, got, c.want)
			}
		})
	}
}

func TestMap(t *testing.T) {
	input := map[string]any{
		"url":      "https://example.com",
		"password": "hunter2",
		"nested": map[string]any{
			"auth_token": "abc",
			"note":       "api_key=leak123 in body",
		},
		"list": []any{
			map[string]any{"secret": "s1"},
			"token=deadbeef",
		},
	}

	got := Map(input)

	if got["password"] != "[REDACTED]" {
		t.Errorf("password not redacted: %v", got["password"])
	}
	nested, ok := got["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested not a map: %v", got["nested"])
	}
	if nested["auth_token"] != "[REDACTED]" {
		t.Errorf("auth_token not redacted: %v", nested["auth_token"])
	}
	if nested["note"] != "[REDACTED] in body" {
		t.Errorf("note not pattern-redacted: %v", nested["note"])
	}
	list, ok := got["list"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("list shape unexpected: %v", got["list"])
	}
	if m, ok := list[0].(map[string]any); !ok || m["secret"] != "[REDACTED]" {
		t.Errorf("list[0] secret not redacted: %v", list[0])
	}
	if list[1] != "[REDACTED]" {
		t.Errorf("list[1] not redacted: %v", list[1])
	}

	if input["password"] != "hunter2" {
		t.Errorf("Map mutated its input")
	}
}
