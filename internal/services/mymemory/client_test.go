package mymemory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rythmo/internal/services"
)

func TestClientTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("q") != "Hello" {
			t.Errorf("unexpected q %q", query.Get("q"))
		}
		if query.Get("langpair") != "en|fr" {
			t.Errorf("unexpected langpair %q", query.Get("langpair"))
		}
		if query.Get("de") != "dub@example.com" {
			t.Errorf("unexpected de %q", query.Get("de"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"responseData":   map[string]any{"translatedText": "Bonjour"},
			"responseStatus": 200,
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Email: "dub@example.com"})
	got, err := client.Translate(context.Background(), "Hello", "en", "fr")
	if err != nil {
		t.Fatalf("Translate returned error: %v", err)
	}
	if got != "Bonjour" {
		t.Fatalf("Translate = %q, want Bonjour", got)
	}
}

func TestClientTranslateAutoSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("langpair") != "auto|de" {
			t.Errorf("unexpected langpair %q", r.URL.Query().Get("langpair"))
		}
		_, _ = w.Write([]byte(`{"responseData":{"translatedText":"Hallo"},"responseStatus":"200"}`))
	}))
	defer server.Close()

	got, err := NewClient(Config{BaseURL: server.URL}).Translate(context.Background(), "Hello", "", "de")
	if err != nil || got != "Hallo" {
		t.Fatalf("Translate = %q, %v", got, err)
	}
}

func TestClientRejectsLongText(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Translate(context.Background(), strings.Repeat("a", MaxQueryBytes+1), "en", "fr")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClientDetectsQuota(t *testing.T) {
	cases := map[string]string{
		"status":  `{"responseData":{"translatedText":""},"responseStatus":403,"responseDetails":"DAILY QUOTA EXCEEDED"}`,
		"in text": `{"responseData":{"translatedText":"MYMEMORY WARNING: YOU USED ALL AVAILABLE FREE TRANSLATIONS FOR TODAY. LIMIT REACHED"},"responseStatus":200}`,
	}
	for name, payload := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(payload))
		}))
		_, err := NewClient(Config{BaseURL: server.URL}).Translate(context.Background(), "Hello", "en", "fr")
		server.Close()
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("%s: expected quota error, got %v", name, err)
		}
	}
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responseData":{"translatedText":""},"responseStatus":"403","responseDetails":"INVALID LANGUAGE PAIR"}`))
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}).Translate(context.Background(), "Hello", "en", "xx")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "INVALID LANGUAGE PAIR") {
		t.Fatalf("expected details in error, got %v", err)
	}
}

func TestClientHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}).Translate(context.Background(), "Hello", "en", "fr")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
