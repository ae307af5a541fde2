package session

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitSegments(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"Hello there.", []string{"Hello there."}},
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"line one\nline two", []string{"line one", "line two"}},
		{"No terminator at all", []string{"No terminator at all"}},
		{"Trailing tail. still going", []string{"Trailing tail.", "still going"}},
	}
	for _, c := range cases {
		if got := splitSegments(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitSegments(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTakeCompleteSegments(t *testing.T) {
	complete, rest := takeCompleteSegments("One. Two! and then")
	if want := []string{"One.", "Two!"}; !reflect.DeepEqual(complete, want) {
		t.Errorf("complete = %v, want %v", complete, want)
	}
	if strings.TrimSpace(rest) != "and then" {
		t.Errorf("rest = %q, want the unterminated tail", rest)
	}

	complete, rest = takeCompleteSegments("no boundary yet")
	if complete != nil || rest != "no boundary yet" {
		t.Errorf("got %v, %q; want nil and untouched buffer", complete, rest)
	}
}

func TestPrefixByFraction(t *testing.T) {
	s := "0123456789"
	if got := prefixByFraction(s, 0); got != "" {
		t.Errorf("fraction 0 = %q, want empty", got)
	}
	if got := prefixByFraction(s, 1); got != s {
		t.Errorf("fraction 1 = %q, want whole string", got)
	}
	if got := prefixByFraction(s, 0.5); got != "01234" {
		t.Errorf("fraction 0.5 = %q, want %q", got, "01234")
	}
	// rune-aware, not byte-aware
	if got := prefixByFraction("ééééé", 0.4); got != "éé" {
		t.Errorf("multibyte fraction 0.4 = %q, want %q", got, "éé")
	}
}

func TestBuildPrompt(t *testing.T) {
	if got := buildPrompt(nil, "hello"); got != "hello" {
		t.Errorf("first-turn prompt = %q, want bare text", got)
	}

	history := []Turn{
		{User: "hi", Agent: "Hello! How can I help?"},
		{User: "tell me a story", Agent: "Once upon a time there was a fox.", Interrupted: true, Spoken: "Once upon a"},
	}
	got := buildPrompt(history, "continue")
	for _, want := range []string{
		"[USER] hi",
		"[ASSISTANT] Hello! How can I help?",
		"[NOTE]",
		`"Once upon a"`,
		"[USER] continue",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "[USER] continue") {
		t.Errorf("prompt must end with the live utterance:\n%s", got)
	}
}
