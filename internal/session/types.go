package session

import (
	"context"
	"time"

	"github.com/rtvb/voicebridge/internal/transcript"
	"github.com/rtvb/voicebridge/internal/vad"
)

// Recognizer streams PCM16LE 16kHz audio to a speech recognizer and yields
// partial and final transcripts.
type Recognizer interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	Partials() <-chan string
	Finals() <-chan transcript.Final
	Close() error
}

// Translator translates a final transcript into the session's output language.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Generator streams an assistant reply for a prompt. The chunk channel closes
// when the reply is complete or the context is cancelled; the error channel
// then yields at most one error.
type Generator interface {
	Generate(ctx context.Context, prompt string) (<-chan string, <-chan error)
}

// Synthesizer converts one text segment into PCM16LE audio at SampleRate().
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error)
	SampleRate() int
}

// State is the turn-taking state of a session.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Turn is one completed user/assistant exchange kept in conversation history.
type Turn struct {
	User        string
	Agent       string
	Interrupted bool
	// Spoken is the prefix of Agent the user actually heard before a barge-in.
	Spoken string
}

// Params are the per-connection options negotiated at session start.
type Params struct {
	InputLang    string
	OutputLang   string
	AgentEnabled bool
	Model        string
	TTSEnabled   bool
	Voice        string
	Format       string // "wav" or "opus"
}

// Config carries the server-side tunables shared by every session.
type Config struct {
	SampleRate    int
	SilenceDelay  time.Duration
	BufferLatency time.Duration
	Detector      vad.Config
}
