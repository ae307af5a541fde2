package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeInbound_BargeIn(t *testing.T) {
	raw := []byte(`{"type":"barge_in","threshold":0.12,"played_audio_seconds":1.5,"total_audio_seconds":3.0,"playback_percent":0.5}`)
	m, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, ok := m.(BargeIn)
	if !ok {
		t.Fatalf("expected BargeIn, got %T", m)
	}
	if b.Threshold != 0.12 || b.PlaybackPercent != 0.5 {
		t.Fatalf("fields not decoded: %+v", b)
	}
}

func TestDecodeInbound_ClearHistory(t *testing.T) {
	m, err := DecodeInbound([]byte(`{"type":"clear_conversation_history"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := m.(ClearHistory); !ok {
		t.Fatalf("expected ClearHistory, got %T", m)
	}
}

func TestDecodeInbound_RejectsUnknownAndMalformed(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"type":"reboot"}`)); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := DecodeInbound([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestOutboundCarriesTypeTag(t *testing.T) {
	cases := []struct {
		ev   Outbound
		want string
	}{
		{Ready{Type: TypeReady, InputLang: "en"}, TypeReady},
		{Final{Type: TypeFinal, Original: "hola"}, TypeFinal},
		{AgentChunk{Type: TypeAgentChunk, Status: "streaming"}, TypeAgentChunk},
		{TTSBargeIn{Type: TypeTTSBargeIn, SpokenText: "hi"}, TypeTTSBargeIn},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.ev)
		if err != nil {
			t.Fatalf("marshal %T: %v", tc.ev, err)
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			t.Fatalf("unmarshal probe: %v", err)
		}
		if probe.Type != tc.want {
			t.Fatalf("%T: type tag %q, want %q", tc.ev, probe.Type, tc.want)
		}
	}
}
