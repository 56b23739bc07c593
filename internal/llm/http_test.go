package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPGeneratorParsesJSONText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"かしこまりました。"}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 2*time.Second)
	got, err := g.Generate(context.Background(), Request{Input: "予約したい"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "かしこまりました。" {
		t.Fatalf("Generate() = %q, want %q", got, "かしこまりました。")
	}
}

func TestHTTPGeneratorRetriesRetryableStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"reply":"ok"}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 2*time.Second)
	got, err := g.Generate(context.Background(), Request{Input: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "ok" {
		t.Fatalf("Generate() = %q, want %q", got, "ok")
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits = %d, want 2", hits.Load())
	}
}

func TestHTTPGeneratorDoesNotRetryClientError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 2*time.Second)
	if _, err := g.Generate(context.Background(), Request{Input: "hello"}); err == nil {
		t.Fatalf("Generate() error = nil, want error")
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1", hits.Load())
	}
}

func TestHTTPGeneratorPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain reply"))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, 2*time.Second)
	got, err := g.Generate(context.Background(), Request{Input: "hello"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "plain reply" {
		t.Fatalf("Generate() = %q, want %q", got, "plain reply")
	}
}
