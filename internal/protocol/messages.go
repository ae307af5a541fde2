// Package protocol defines the wire contract between a listener client and
// its session: inbound control messages and outbound events, one tagged
// variant per message kind. Binary websocket frames (raw PCM16LE mono) are
// not represented here; they bypass JSON entirely.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound control message types.
const (
	TypeBargeIn      = "barge_in"
	TypeClearHistory = "clear_conversation_history"
)

// Outbound event types.
const (
	TypeReady               = "ready"
	TypePartial             = "partial"
	TypeFinal               = "final"
	TypeAgentChunk          = "agent_chunk"
	TypeAgent               = "agent"
	TypeTTSAudio            = "tts_audio"
	TypeTTSComplete         = "tts_complete"
	TypeTTSError            = "tts_error"
	TypeTTSInterrupted      = "tts_interrupted"
	TypeTTSBargeIn          = "tts_barge_in"
	TypeConversationCleared = "conversation_cleared"
)

// Inbound is a control message from the listener device.
type Inbound interface{ isInbound() }

// BargeIn is a client-detected interruption. The playback fields carry the
// client's own view of playback progress at the moment it triggered.
type BargeIn struct {
	Type            string  `json:"type"`
	Threshold       float64 `json:"threshold,omitempty"`
	PlayedSeconds   float64 `json:"played_audio_seconds,omitempty"`
	TotalSeconds    float64 `json:"total_audio_seconds,omitempty"`
	PlaybackPercent float64 `json:"playback_percent,omitempty"`
}

// ClearHistory wipes the session's conversation history.
type ClearHistory struct {
	Type string `json:"type"`
}

func (BargeIn) isInbound()      {}
func (ClearHistory) isInbound() {}

// DecodeInbound parses a textual control message into its variant.
// Unknown or malformed messages return an error; the caller drops them and
// the session continues.
func DecodeInbound(data []byte) (Inbound, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed control message: %w", err)
	}
	switch probe.Type {
	case TypeBargeIn:
		var m BargeIn
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed barge_in: %w", err)
		}
		return m, nil
	case TypeClearHistory:
		var m ClearHistory
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed clear_conversation_history: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown control message type %q", probe.Type)
	}
}

// Outbound is an event streamed to the listener device.
type Outbound interface{ isOutbound() }

// Ready signals that the session is initialized and echoes the negotiated
// parameters.
type Ready struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	InputLang  string `json:"input_lang"`
	OutputLang string `json:"output_lang"`
	Model      string `json:"model,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

// Partial carries a running transcript; each partial supersedes the previous.
type Partial struct {
	Type     string `json:"type"`
	Original string `json:"original"`
}

// Final carries a finalized transcript and its translation.
type Final struct {
	Type        string  `json:"type"`
	Original    string  `json:"original"`
	Translation string  `json:"translation"`
	Confidence  float64 `json:"confidence"`
	InputLang   string  `json:"input_lang"`
	OutputLang  string  `json:"output_lang"`
}

// AgentChunk streams generation progress. Status is one of
// "start", "streaming", "done", "cancelled".
type AgentChunk struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Chunk  string `json:"chunk,omitempty"`
	Model  string `json:"model"`
}

// Agent closes a generation turn. Status is "ok" or "error".
type Agent struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Model    string `json:"model"`
}

// TTSAudio carries one synthesized segment as base64 audio.
type TTSAudio struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format,omitempty"`
	Segment    int    `json:"segment"`
	Text       string `json:"text"`
}

// TTSComplete signals that every scheduled segment finished playing.
type TTSComplete struct {
	Type          string `json:"type"`
	TotalSegments int    `json:"total_segments"`
}

// TTSError surfaces a synthesis failure. Never retried.
type TTSError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// TTSInterrupted signals that scheduled playback was force-stopped.
type TTSInterrupted struct {
	Type    string `json:"type"`
	Segment int    `json:"segment"`
}

// TTSBargeIn acknowledges an accepted barge-in and reports how much of the
// response the listener actually heard.
type TTSBargeIn struct {
	Type            string  `json:"type"`
	PlayedSeconds   float64 `json:"played_audio_seconds"`
	TotalSeconds    float64 `json:"total_audio_seconds"`
	PlaybackPercent float64 `json:"playback_percent"`
	SpokenText      string  `json:"spoken_text"`
}

// ConversationCleared acknowledges a history wipe.
type ConversationCleared struct {
	Type string `json:"type"`
}

func (Ready) isOutbound()               {}
func (Partial) isOutbound()             {}
func (Final) isOutbound()               {}
func (AgentChunk) isOutbound()          {}
func (Agent) isOutbound()               {}
func (TTSAudio) isOutbound()            {}
func (TTSComplete) isOutbound()         {}
func (TTSError) isOutbound()            {}
func (TTSInterrupted) isOutbound()      {}
func (TTSBargeIn) isOutbound()          {}
func (ConversationCleared) isOutbound() {}
