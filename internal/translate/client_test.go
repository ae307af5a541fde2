package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranslate_PostsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "hello" || req.SourceLang != "en" || req.TargetLang != "es" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(translateResponse{Translation: "hola"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.Translate(context.Background(), "hello", "en", "es")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != "hola" {
		t.Fatalf("translation = %q", got)
	}
}

func TestTranslate_SameLanguageShortCircuits(t *testing.T) {
	c := NewClient("http://127.0.0.1:1") // unreachable on purpose
	got, err := c.Translate(context.Background(), "hello", "en", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestTranslate_SurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Translate(context.Background(), "hello", "en", "es"); err == nil {
		t.Fatalf("expected error on 502")
	}
}
