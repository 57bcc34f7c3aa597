package core

import (
    "context"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/sirupsen/logrus"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"

    "emergency-call-backend/internal/db"
    "emergency-call-backend/internal/llm"
    "emergency-call-backend/internal/logger"
    "emergency-call-backend/internal/speech"
    "emergency-call-backend/pkg"
)

const (
    transcriptConfidence = 0.9
    summaryConfidence    = 0.95
)

// Pipeline runs the audio stages: transcription, summary/translation,
// structured extraction and persistence.  Transcription and summary failures
// are returned to the caller; extraction failures degrade to fixed sets.
type Pipeline struct {
    LLM               llm.Client
    Transcriber       speech.Transcriber
    Messages          *MessageService
    Repo              *db.Repository
    LLMTimeout        time.Duration
    TranscribeTimeout time.Duration
    TempDir           string
    Log               *logrus.Entry
}

// AudioRequest is one uploaded clip to run through the pipeline.
type AudioRequest struct {
    Audio          io.Reader
    Filename       string
    SessionID      *int64
    TargetLanguage string
}

// AudioResult is what ProcessAudio produced.
type AudioResult struct {
    SessionID      *int64
    Transcript     string
    Summary        []string
    TargetLanguage string
}

func (p *Pipeline) log(ctx context.Context) *logrus.Entry {
    return logger.FromContext(ctx, p.Log)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
    if d <= 0 {
        return context.WithCancel(ctx)
    }
    return context.WithTimeout(ctx, d)
}

// Transcribe runs speech recognition on a file already on disk.
func (p *Pipeline) Transcribe(ctx context.Context, path string) (string, error) {
    ctx, span := tracer.Start(ctx, "pipeline.transcribe")
    defer span.End()
    start := time.Now()
    defer observe(ctx, "pipeline.stage.duration", start, attribute.String("stage", "transcribe"))

    ctx, cancel := withTimeout(ctx, p.TranscribeTimeout)
    defer cancel()
    text, err := p.Transcriber.Transcribe(ctx, path)
    if err != nil {
        span.RecordError(err)
        span.SetStatus(codes.Error, err.Error())
        return "", err
    }
    return text, nil
}

// complete checks the credential, then runs one bounded model call.
func (p *Pipeline) complete(ctx context.Context, stage, prompt string) (string, error) {
    if !p.LLM.Configured() {
        return "", pkg.ErrAIBackendUnavailable
    }
    ctx, span := tracer.Start(ctx, "pipeline."+stage)
    defer span.End()
    start := time.Now()
    defer observe(ctx, "pipeline.stage.duration", start, attribute.String("stage", stage))

    ctx, cancel := withTimeout(ctx, p.LLMTimeout)
    defer cancel()
    out, err := p.LLM.Complete(ctx, prompt)
    if err != nil {
        span.RecordError(err)
        span.SetStatus(codes.Error, err.Error())
        return "", err
    }
    return out, nil
}

// Summarize asks the model for bullet points translated into lang.
func (p *Pipeline) Summarize(ctx context.Context, transcript, lang string) ([]string, error) {
    out, err := p.complete(ctx, "summarize", fmt.Sprintf(SummaryPrompt, transcript, lang))
    if err != nil {
        return nil, err
    }
    return bulletLines(out), nil
}

// Translate translates each text into lang, one output line per input line
// as far as the model keeps the structure.
func (p *Pipeline) Translate(ctx context.Context, texts []string, lang string) ([]string, error) {
    lines := make([]string, 0, len(texts))
    for _, t := range texts {
        lines = append(lines, "- "+t)
    }
    out, err := p.complete(ctx, "translate", fmt.Sprintf(TranslatePrompt, lang, strings.Join(lines, "\n")))
    if err != nil {
        return nil, err
    }
    return bulletLines(out), nil
}

// Recommendations extracts advice for the agent.  Any failure, including a
// missing credential or an empty list, yields the fallback set.
func (p *Pipeline) Recommendations(ctx context.Context, transcript string, summary []string, lang string) Extraction[pkg.Recommendation] {
    out, err := p.complete(ctx, "recommendations",
        fmt.Sprintf(RecommendationPrompt, transcript, strings.Join(summary, "\n"), lang))
    if err != nil {
        return degradeTo(ctx, p.log(ctx), "recommendations", fallbackRecommendations, err)
    }
    items, err := parseRecommendations(out)
    if err != nil {
        return degradeTo(ctx, p.log(ctx), "recommendations", fallbackRecommendations, fmt.Errorf("parse model output: %w", err))
    }
    if len(items) == 0 {
        return degradeTo(ctx, p.log(ctx), "recommendations", fallbackRecommendations, fmt.Errorf("model returned no recommendations"))
    }
    return Extraction[pkg.Recommendation]{Items: items}
}

// AgentSuggestions extracts next questions or remarks for the agent, with the
// same fallback rules as Recommendations.
func (p *Pipeline) AgentSuggestions(ctx context.Context, transcript string, summary []string, lang string) Extraction[pkg.AgentSuggestion] {
    out, err := p.complete(ctx, "agent_suggestions",
        fmt.Sprintf(AgentSuggestionPrompt, transcript, strings.Join(summary, "\n"), lang))
    if err != nil {
        return degradeTo(ctx, p.log(ctx), "agent_suggestions", fallbackAgentSuggestions, err)
    }
    items, err := parseAgentSuggestions(out)
    if err != nil {
        return degradeTo(ctx, p.log(ctx), "agent_suggestions", fallbackAgentSuggestions, fmt.Errorf("parse model output: %w", err))
    }
    if len(items) == 0 {
        return degradeTo(ctx, p.log(ctx), "agent_suggestions", fallbackAgentSuggestions, fmt.Errorf("model returned no suggestions"))
    }
    return Extraction[pkg.AgentSuggestion]{Items: items}
}

func degradeTo[T any](ctx context.Context, log *logrus.Entry, stage string, fallback []T, cause error) Extraction[T] {
    count(ctx, "pipeline.extraction.fallback", "Structured extractions replaced by the fallback set",
        attribute.String("stage", stage))
    log.WithError(cause).WithField("stage", stage).Warn("structured extraction degraded to fallback")
    return degraded(fallback, cause.Error())
}

// ProcessAudio stores the upload in a temporary file, transcribes it, and
// summarises the transcript in the target language.  With a session ID the
// transcript and summary are appended to that session as caller and ai
// messages.  The temporary file is removed on every path.
func (p *Pipeline) ProcessAudio(ctx context.Context, req AudioRequest) (*AudioResult, error) {
    lang := strings.TrimSpace(req.TargetLanguage)
    if lang == "" {
        lang = "french"
    }
    if req.SessionID != nil {
        if _, err := p.Repo.GetSession(ctx, *req.SessionID); err != nil {
            return nil, err
        }
    }
    if !p.LLM.Configured() {
        return nil, pkg.ErrAIBackendUnavailable
    }

    path, cleanup, err := p.spool(req.Audio, req.Filename)
    if err != nil {
        return nil, err
    }
    defer cleanup()

    transcript, err := p.Transcribe(ctx, path)
    if err != nil {
        return nil, err
    }
    summary, err := p.Summarize(ctx, transcript, lang)
    if err != nil {
        return nil, err
    }

    if req.SessionID != nil {
        if err := p.persist(ctx, *req.SessionID, transcript, summary); err != nil {
            return nil, err
        }
    }
    p.log(ctx).WithFields(logrus.Fields{
        "summary_lines":   len(summary),
        "target_language": lang,
    }).Info("audio processed")

    return &AudioResult{
        SessionID:      req.SessionID,
        Transcript:     transcript,
        Summary:        summary,
        TargetLanguage: lang,
    }, nil
}

// TranscribeUpload stores the upload in a temporary file and transcribes it.
func (p *Pipeline) TranscribeUpload(ctx context.Context, audio io.Reader, filename string) (string, error) {
    path, cleanup, err := p.spool(audio, filename)
    if err != nil {
        return "", err
    }
    defer cleanup()
    return p.Transcribe(ctx, path)
}

func (p *Pipeline) persist(ctx context.Context, sessionID int64, transcript string, summary []string) error {
    tc, sc := transcriptConfidence, summaryConfidence
    if _, err := p.Messages.Send(ctx, &pkg.Message{
        SessionID:       sessionID,
        SenderType:      pkg.SenderCaller,
        Message:         transcript,
        ConfidenceScore: &tc,
    }); err != nil {
        return fmt.Errorf("store transcript: %w", err)
    }
    if len(summary) == 0 {
        return nil
    }
    if _, err := p.Messages.Send(ctx, &pkg.Message{
        SessionID:       sessionID,
        SenderType:      pkg.SenderAI,
        Message:         "- " + strings.Join(summary, "\n- "),
        ConfidenceScore: &sc,
    }); err != nil {
        return fmt.Errorf("store summary: %w", err)
    }
    return nil
}

// spool copies audio into a fresh file under TempDir, keeping the upload's
// extension so the recogniser can pick a decoder.
func (p *Pipeline) spool(audio io.Reader, filename string) (string, func(), error) {
    f, err := os.CreateTemp(p.TempDir, "audio-*"+filepath.Ext(filepath.Base(filename)))
    if err != nil {
        return "", nil, fmt.Errorf("create temp file: %w", err)
    }
    cleanup := func() {
        if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
            p.Log.WithError(err).WithField("path", f.Name()).Warn("failed to remove temp audio")
        }
    }
    if _, err := io.Copy(f, audio); err != nil {
        _ = f.Close()
        cleanup()
        return "", nil, fmt.Errorf("write temp file: %w", err)
    }
    if err := f.Close(); err != nil {
        cleanup()
        return "", nil, fmt.Errorf("close temp file: %w", err)
    }
    return f.Name(), cleanup, nil
}
