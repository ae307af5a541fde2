package session

import "strings"

// splitSegments splits assistant text into sentence-like segments so audio can
// be synthesized and shipped while the rest of the reply is still streaming.
// Heuristic: split on '.', '?', '!' and newlines, retaining punctuation.
func splitSegments(text string) []string {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return nil
	}
	var segments []string
	var b strings.Builder
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			seg := strings.TrimSpace(b.String())
			if seg != "" {
				segments = append(segments, seg)
			}
			b.Reset()
		case '\n', '\r':
			seg := strings.TrimSpace(b.String())
			if seg != "" {
				segments = append(segments, seg)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	tail := strings.TrimSpace(b.String())
	if tail != "" {
		segments = append(segments, tail)
	}
	return segments
}

// takeCompleteSegments splits buf at the last sentence boundary and returns the
// complete segments plus the unterminated remainder to carry forward.
func takeCompleteSegments(buf string) (complete []string, rest string) {
	last := strings.LastIndexAny(buf, ".!?\n")
	if last < 0 {
		return nil, buf
	}
	return splitSegments(buf[:last+1]), buf[last+1:]
}

// prefixByFraction returns the leading fraction of s, measured in runes.
func prefixByFraction(s string, fraction float64) string {
	if fraction <= 0 {
		return ""
	}
	if fraction >= 1 {
		return s
	}
	runes := []rune(s)
	n := int(float64(len(runes))*fraction + 0.5)
	if n > len(runes) {
		n = len(runes)
	}
	return string(runes[:n])
}
