package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"emergency-call-backend/pkg"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe_ReturnsText(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" my father collapsed "}`))
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber(srv.URL+"/v1", "", "base")
	text, err := tr.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "my father collapsed" {
		t.Fatalf("text = %q", text)
	}
	if gotModel != "base" {
		t.Fatalf("model = %q", gotModel)
	}
	if tr.Name() != "whisper:base" {
		t.Fatalf("Name = %q", tr.Name())
	}
}

func TestTranscribe_FailuresWrapSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber(srv.URL, "", "")
	if _, err := tr.Transcribe(context.Background(), writeAudio(t)); !errors.Is(err, pkg.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed for empty text, got %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav")); !errors.Is(err, pkg.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed for missing file, got %v", err)
	}
}
