package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rtvb/voicebridge/internal/session"
	"github.com/rtvb/voicebridge/internal/transcript"
	"github.com/rtvb/voicebridge/internal/vad"
)

type stubRecognizer struct {
	partials chan string
	finals   chan transcript.Final
	mu       sync.Mutex
	sent     int
	closed   bool
	once     sync.Once
}

func newStubRecognizer() *stubRecognizer {
	return &stubRecognizer{partials: make(chan string, 4), finals: make(chan transcript.Final, 4)}
}

func (r *stubRecognizer) Connect() error { return nil }
func (r *stubRecognizer) SendPCM16KLE(pcm []byte) error {
	r.mu.Lock()
	r.sent += len(pcm)
	r.mu.Unlock()
	return nil
}
func (r *stubRecognizer) Partials() <-chan string         { return r.partials }
func (r *stubRecognizer) Finals() <-chan transcript.Final { return r.finals }
func (r *stubRecognizer) Close() error {
	r.once.Do(func() {
		close(r.partials)
		close(r.finals)
	})
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *stubRecognizer) sentBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func (r *stubRecognizer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type stubTranslator struct{}

func (stubTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)
	close(chunks)
	errs <- nil
	return chunks, errs
}

type stubSynth struct{}

func (stubSynth) SampleRate() int { return 16000 }
func (stubSynth) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	out := make(chan []byte)
	errs := make(chan error, 1)
	close(out)
	errs <- nil
	return out, errs
}

func newTestHandler(rec *stubRecognizer) *Handler {
	return &Handler{
		SessionConfig: session.Config{
			SampleRate:    16000,
			SilenceDelay:  50 * time.Millisecond,
			BufferLatency: 0,
			Detector:      vad.Default(),
		},
		DefaultModel:   "default-model",
		DefaultVoice:   "default-voice",
		NewRecognizer:  func(session.Params) (session.Recognizer, error) { return rec, nil },
		Translator:     stubTranslator{},
		NewGenerator:   func(string) session.Generator { return stubGenerator{} },
		NewSynthesizer: func(session.Params) (session.Synthesizer, error) { return stubSynth{}, nil },
	}
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal event %q: %v", data, err)
	}
	return m
}

func TestStreamHandshakeAndDefaults(t *testing.T) {
	rec := newStubRecognizer()
	e := echo.New()
	newTestHandler(rec).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialStream(t, srv, "")

	ready := readEvent(t, conn)
	if ready["type"] != "ready" {
		t.Fatalf("first event type = %v, want ready", ready["type"])
	}
	if ready["session_id"] == "" || ready["session_id"] == nil {
		t.Error("ready carries no session id")
	}
	if ready["input_lang"] != "en" || ready["output_lang"] != "en" {
		t.Errorf("default langs = %v->%v, want en->en", ready["input_lang"], ready["output_lang"])
	}
	if ready["model"] != "default-model" {
		t.Errorf("model = %v, want default-model", ready["model"])
	}
}

func TestStreamNegotiatesParams(t *testing.T) {
	rec := newStubRecognizer()
	e := echo.New()
	newTestHandler(rec).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialStream(t, srv, "?input_lang=es&output_lang=fr&model=llama3&voice=nova")

	ready := readEvent(t, conn)
	if ready["input_lang"] != "es" || ready["output_lang"] != "fr" {
		t.Errorf("langs = %v->%v, want es->fr", ready["input_lang"], ready["output_lang"])
	}
	if ready["model"] != "llama3" || ready["voice"] != "nova" {
		t.Errorf("model/voice = %v/%v", ready["model"], ready["voice"])
	}
}

func TestBinaryFramesReachRecognizer(t *testing.T) {
	rec := newStubRecognizer()
	e := echo.New()
	newTestHandler(rec).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	_ = readEvent(t, conn) // ready

	frame := make([]byte, 640)
	for i := 0; i < 5; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("write binary: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.sentBytes() == 5*640 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recognizer received %d bytes, want %d", rec.sentBytes(), 5*640)
}

func TestMalformedControlFrameIsDropped(t *testing.T) {
	rec := newStubRecognizer()
	e := echo.New()
	newTestHandler(rec).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	_ = readEvent(t, conn) // ready

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"no_such_thing"}`)); err != nil {
		t.Fatalf("write control: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not even json`)); err != nil {
		t.Fatalf("write control: %v", err)
	}

	// the session must survive both: a clear request still round-trips
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"clear_conversation_history"}`)); err != nil {
		t.Fatalf("write control: %v", err)
	}
	ev := readEvent(t, conn)
	if ev["type"] != "conversation_cleared" {
		t.Fatalf("event type = %v, want conversation_cleared", ev["type"])
	}
}

func TestBargeInControlFrameIsRouted(t *testing.T) {
	rec := newStubRecognizer()
	e := echo.New()
	newTestHandler(rec).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	_ = readEvent(t, conn) // ready

	frame := `{"type":"barge_in","threshold":0.08,"played_audio_seconds":1.2,"total_audio_seconds":3.0,"playback_percent":40}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write control: %v", err)
	}

	// nothing is playing, so the request is a no-op, but the frame must be
	// decoded and dispatched without killing the stream
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"clear_conversation_history"}`)); err != nil {
		t.Fatalf("write control: %v", err)
	}
	ev := readEvent(t, conn)
	if ev["type"] != "conversation_cleared" {
		t.Fatalf("event type = %v, want conversation_cleared", ev["type"])
	}
}

func TestSynthesizerFailureClosesRecognizer(t *testing.T) {
	rec := newStubRecognizer()
	h := newTestHandler(rec)
	h.NewSynthesizer = func(session.Params) (session.Synthesizer, error) {
		return nil, errors.New("tts backend down")
	}
	e := echo.New()
	h.Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	// the handler bails before the session starts, closing the socket
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the stream to close when synthesizer init fails")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.isClosed() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("recognizer left open after synthesizer init failure")
}
