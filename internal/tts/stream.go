package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// StreamSynthesizer talks to the websocket speech-synthesis service. Each
// Synthesize call opens one stream for one text segment and yields ordered
// PCM chunks; cancelling the context severs the stream mid-flight.
type StreamSynthesizer struct {
	endpoint   string
	voice      string
	sampleRate int
}

type ttsOutboundMessage struct {
	Type       string `json:"type"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Content    string `json:"content,omitempty"`
}

type ttsInboundMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Segment    int    `json:"segment,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewStreamSynthesizer builds a synthesis client for the given endpoint,
// voice, and output sample rate.
func NewStreamSynthesizer(endpoint, voice string, sampleRate int) *StreamSynthesizer {
	if sampleRate == 0 {
		sampleRate = 24000
	}
	return &StreamSynthesizer{endpoint: endpoint, voice: voice, sampleRate: sampleRate}
}

// SampleRate reports the PCM sample rate of emitted chunks.
func (s *StreamSynthesizer) SampleRate() int { return s.sampleRate }

// Synthesize streams synthesized PCM16LE for the given text. The audio
// channel closes when the segment completes or the context is cancelled.
func (s *StreamSynthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if text == "" {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
		if err != nil {
			errCh <- fmt.Errorf("tts: connect: %w", err)
			return
		}
		defer conn.Close()

		// sever the read loop when the caller cancels
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		cfg := ttsOutboundMessage{Type: "config", Language: s.voice, SampleRate: s.sampleRate}
		if err := conn.WriteJSON(cfg); err != nil {
			errCh <- fmt.Errorf("tts: send config: %w", err)
			return
		}
		if err := conn.WriteJSON(ttsOutboundMessage{Type: "text", Content: text}); err != nil {
			errCh <- fmt.Errorf("tts: send text: %w", err)
			return
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errCh <- fmt.Errorf("tts: read: %w", err)
				return
			}
			var msg ttsInboundMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "audio":
				pcm, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case pcmCh <- pcm:
				}
			case "complete":
				return
			case "interrupted":
				return
			case "error":
				errCh <- fmt.Errorf("tts: %s", msg.Error)
				return
			}
		}
	}()

	return pcmCh, errCh
}
