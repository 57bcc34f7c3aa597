// Package speech turns recorded audio into text.
package speech

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"emergency-call-backend/pkg"
)

// Transcriber converts an audio file on disk into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
	Name() string
}

// WhisperTranscriber talks to a Whisper server exposing the OpenAI-compatible
// /audio/transcriptions endpoint (a local faster-whisper or whisper.cpp
// server, or the hosted API).
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

// NewWhisperTranscriber builds a transcriber for baseURL.  Local servers
// usually ignore the key, so an empty one is allowed.
func NewWhisperTranscriber(baseURL, apiKey, model string) *WhisperTranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name identifies the engine in health responses.
func (w *WhisperTranscriber) Name() string { return "whisper:" + w.model }

// Transcribe uploads the file and returns the recognised text.  Every
// failure, including an empty result, wraps pkg.ErrTranscriptionFailed.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkg.ErrTranscriptionFailed, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", pkg.ErrTranscriptionFailed)
	}
	return text, nil
}
