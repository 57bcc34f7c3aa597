package core

import (
    "context"
    "fmt"
    "strings"

    "github.com/sirupsen/logrus"

    "emergency-call-backend/internal/db"
    "emergency-call-backend/internal/logger"
    "emergency-call-backend/pkg"
)

// emergencyKeywords escalate a session when any of them appears in a message.
// Matching is a plain case-insensitive substring test, so negations such as
// "not having a heart attack" still match.
var emergencyKeywords = []string{
    "heart attack",
    "unconscious",
    "severe bleeding",
    "not breathing",
}

// IsEmergency reports whether text contains an emergency keyword.
func IsEmergency(text string) bool {
    lower := strings.ToLower(text)
    for _, kw := range emergencyKeywords {
        if strings.Contains(lower, kw) {
            return true
        }
    }
    return false
}

// MessageService appends messages to sessions and escalates sessions whose
// messages mention an emergency.
type MessageService struct {
    Repo     *db.Repository
    Notifier Notifier
    Log      *logrus.Entry
}

// NewMessageService constructs a MessageService.
func NewMessageService(repo *db.Repository, notifier Notifier, log *logrus.Entry) *MessageService {
    return &MessageService{Repo: repo, Notifier: notifier, Log: log}
}

// Send validates and stores m, then scans it for emergency keywords.  It
// reports whether the session was escalated by this message.
func (s *MessageService) Send(ctx context.Context, m *pkg.Message) (bool, error) {
    if !m.SenderType.Valid() {
        return false, fmt.Errorf("%w: unknown sender_type %q", pkg.ErrInvalidInput, m.SenderType)
    }
    if strings.TrimSpace(m.Message) == "" {
        return false, fmt.Errorf("%w: message is empty", pkg.ErrInvalidInput)
    }
    if c := m.ConfidenceScore; c != nil && (*c < 0 || *c > 1) {
        return false, fmt.Errorf("%w: confidence_score must be between 0 and 1", pkg.ErrInvalidInput)
    }
    if _, err := s.Repo.GetSession(ctx, m.SessionID); err != nil {
        return false, err
    }

    if err := s.Repo.CreateMessage(ctx, m); err != nil {
        return false, fmt.Errorf("store message: %w", err)
    }

    escalated := false
    if IsEmergency(m.Message) {
        changed, err := s.Repo.MarkEmergency(ctx, m.SessionID)
        if err != nil {
            return false, fmt.Errorf("mark emergency: %w", err)
        }
        escalated = changed
        if changed {
            count(ctx, "sessions.emergency", "Sessions escalated by an emergency keyword")
            logger.FromContext(ctx, s.Log).WithFields(logrus.Fields{
                "session_id": m.SessionID,
                "sender":     m.SenderType,
            }).Warn("session escalated to emergency")
        }
    }

    notify(ctx, s.Notifier, s.Log, m.SessionID)
    return escalated, nil
}
