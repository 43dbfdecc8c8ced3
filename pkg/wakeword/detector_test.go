package wakeword

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPDetectorDetect(t *testing.T) {
	window := make([]byte, 640)
	for i := range window {
		window[i] = byte(i)
	}

	var gotBody []byte
	var gotContentType, gotRate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotContentType = r.Header.Get("Content-Type")
		gotRate = r.Header.Get("X-Sample-Rate")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"word":"小智","confidence":0.87}`))
	}))
	defer srv.Close()

	det := NewHTTPDetector(srv.URL, 16000, 1)
	result, err := det.Detect(context.Background(), window)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if result.Word != "小智" {
		t.Errorf("expected 小智, got %q", result.Word)
	}
	if result.Confidence != 0.87 {
		t.Errorf("expected confidence 0.87, got %f", result.Confidence)
	}
	if gotContentType != "application/octet-stream" {
		t.Errorf("expected octet-stream content type, got %q", gotContentType)
	}
	if gotRate != "16000" {
		t.Errorf("expected sample rate header 16000, got %q", gotRate)
	}
	if len(gotBody) != len(window) {
		t.Fatalf("expected %d body bytes, got %d", len(window), len(gotBody))
	}
	for i := range window {
		if gotBody[i] != window[i] {
			t.Fatalf("body byte %d mismatch", i)
		}
	}
}

func TestHTTPDetectorBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	det := NewHTTPDetector(srv.URL, 16000, 1)
	if _, err := det.Detect(context.Background(), make([]byte, 64)); err == nil {
		t.Fatal("expected error on backend failure")
	}
}

func TestHTTPDetectorMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	det := NewHTTPDetector(srv.URL, 16000, 1)
	if _, err := det.Detect(context.Background(), make([]byte, 64)); err == nil {
		t.Fatal("expected error on malformed response")
	}
}

func TestMockDetectorScript(t *testing.T) {
	det := NewMockDetector()
	det.Queue(Detection{Word: "小智", Confidence: 0.9})

	first, err := det.Detect(context.Background(), make([]byte, 32))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if first.Word != "小智" {
		t.Errorf("expected scripted word, got %q", first.Word)
	}

	// Script exhausted: silence.
	second, err := det.Detect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if second.Word != "" {
		t.Errorf("expected silence after script, got %q", second.Word)
	}

	if det.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", det.Calls())
	}
	if got := det.LastWindow(); len(got) != 0 {
		t.Errorf("expected empty last window, got %d bytes", len(got))
	}
}
