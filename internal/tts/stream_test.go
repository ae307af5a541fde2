package tts

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// fakeTTSServer speaks the synthesis wire protocol: reads config + text,
// then emits the configured audio messages.
func fakeTTSServer(t *testing.T, respond func(conn *websocket.Conn, text string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var cfg ttsOutboundMessage
		if err := conn.ReadJSON(&cfg); err != nil || cfg.Type != "config" {
			t.Errorf("expected config, got %+v err=%v", cfg, err)
			return
		}
		var txt ttsOutboundMessage
		if err := conn.ReadJSON(&txt); err != nil || txt.Type != "text" {
			t.Errorf("expected text, got %+v err=%v", txt, err)
			return
		}
		respond(conn, txt.Content)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSynthesize_StreamsAudioUntilComplete(t *testing.T) {
	payload := []byte{1, 0, 2, 0, 3, 0}
	srv := fakeTTSServer(t, func(conn *websocket.Conn, text string) {
		_ = conn.WriteJSON(ttsInboundMessage{Type: "audio", Data: base64.StdEncoding.EncodeToString(payload), Segment: 0})
		_ = conn.WriteJSON(ttsInboundMessage{Type: "complete"})
	})
	defer srv.Close()

	s := NewStreamSynthesizer(wsURL(srv), "en", 24000)
	pcmCh, errCh := s.Synthesize(context.Background(), "hello")

	var got []byte
	for chunk := range pcmCh {
		got = append(got, chunk...)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("audio bytes = %d, want %d", len(got), len(payload))
	}
}

func TestSynthesize_SurfacesServiceError(t *testing.T) {
	srv := fakeTTSServer(t, func(conn *websocket.Conn, text string) {
		_ = conn.WriteJSON(ttsInboundMessage{Type: "error", Error: "no such voice"})
	})
	defer srv.Close()

	s := NewStreamSynthesizer(wsURL(srv), "martian", 24000)
	pcmCh, errCh := s.Synthesize(context.Background(), "hello")
	for range pcmCh {
	}
	err := <-errCh
	if err == nil || !strings.Contains(err.Error(), "no such voice") {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestSynthesize_CancelClosesStream(t *testing.T) {
	block := make(chan struct{})
	srv := fakeTTSServer(t, func(conn *websocket.Conn, text string) {
		<-block
	})
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewStreamSynthesizer(wsURL(srv), "en", 24000)
	pcmCh, _ := s.Synthesize(ctx, "hello")

	cancel()
	select {
	case _, open := <-pcmCh:
		if open {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not close after cancel")
	}
}

func TestSynthesize_EmptyTextIsNoop(t *testing.T) {
	s := NewStreamSynthesizer("ws://127.0.0.1:1", "en", 24000)
	pcmCh, errCh := s.Synthesize(context.Background(), "")
	if _, open := <-pcmCh; open {
		t.Fatalf("expected immediate close for empty text")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
