package pkg

import "errors"

// Sentinel errors shared by the storage, service and HTTP layers.  Callers
// wrap them with fmt.Errorf("...: %w") and classify with errors.Is.
var (
    ErrInvalidInput     = errors.New("invalid input")
    ErrSessionNotFound  = errors.New("chat session not found")
    ErrCallerNotFound   = errors.New("caller not found")
    ErrNoAgentAvailable = errors.New("no available agents at the moment")

    // ErrAIBackendUnavailable means no language-model credential is configured.
    ErrAIBackendUnavailable = errors.New("AI backend not configured")
    // ErrAIBackend wraps a failed call to the remote language model.
    ErrAIBackend = errors.New("AI backend error")
    // ErrTranscriptionFailed wraps speech-recognition failures.
    ErrTranscriptionFailed = errors.New("transcription failed")
)
