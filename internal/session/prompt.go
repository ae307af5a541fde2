package session

import (
	"fmt"
	"strings"
)

// buildPrompt formats previous turns plus the latest user text with
// [USER]/[ASSISTANT] labels. When a prior turn was interrupted, a note tells
// the model which prefix of its reply was actually heard so it does not assume
// the user received the full answer. A lone first utterance is passed through
// as-is.
func buildPrompt(history []Turn, userText string) string {
	if len(history) == 0 {
		return userText
	}
	var b strings.Builder
	for _, t := range history {
		b.WriteString("[USER] ")
		b.WriteString(t.User)
		b.WriteString("\n[ASSISTANT] ")
		b.WriteString(t.Agent)
		b.WriteString("\n")
		if t.Interrupted {
			fmt.Fprintf(&b, "[NOTE] the user interrupted this answer; they only heard: %q\n", t.Spoken)
		}
	}
	b.WriteString("[USER] ")
	b.WriteString(userText)
	return b.String()
}
