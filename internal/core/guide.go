package core

import (
    "context"
    "fmt"
    "strings"

    "github.com/sirupsen/logrus"

    "emergency-call-backend/internal/db"
    "emergency-call-backend/pkg"
)

// cannedQuestions are the placeholder questions handed out by
// GenerateSuggestions, keyed by caller language.  Anything not listed uses
// the "" entry.
var cannedQuestions = map[string][]pkg.QuestionSuggestion{
    "french": {
        {Question: "Avez-vous des douleurs thoraciques ?", Priority: 1, Status: pkg.QuestionNotAsked},
        {Question: "Avez-vous des antécédents médicaux ?", Priority: 2, Status: pkg.QuestionNotAsked},
    },
    "": {
        {Question: "Are you experiencing chest pain?", Priority: 1, Status: pkg.QuestionNotAsked},
        {Question: "Do you have any allergies?", Priority: 2, Status: pkg.QuestionNotAsked},
    },
}

// CannedQuestions returns a fresh copy of the placeholder questions for a
// caller language.
func CannedQuestions(language string) []pkg.QuestionSuggestion {
    qs, ok := cannedQuestions[strings.ToLower(strings.TrimSpace(language))]
    if !ok {
        qs = cannedQuestions[""]
    }
    return append([]pkg.QuestionSuggestion(nil), qs...)
}

// GuideService stores the per-session suggestion guide.
type GuideService struct {
    Repo     *db.Repository
    Notifier Notifier
    Log      *logrus.Entry
}

// NewGuideService constructs a GuideService.
func NewGuideService(repo *db.Repository, notifier Notifier, log *logrus.Entry) *GuideService {
    return &GuideService{Repo: repo, Notifier: notifier, Log: log}
}

// UpdateSuggestions replaces both lists of the session guide.  Entries left
// out of the new lists are gone afterwards.
func (g *GuideService) UpdateSuggestions(ctx context.Context, sessionID int64, questions []pkg.QuestionSuggestion, departments []string) error {
    for i, q := range questions {
        if !q.Status.Valid() {
            return fmt.Errorf("%w: question_suggestions[%d].status %q", pkg.ErrInvalidInput, i, q.Status)
        }
        if strings.TrimSpace(q.Question) == "" {
            return fmt.Errorf("%w: question_suggestions[%d].question is empty", pkg.ErrInvalidInput, i)
        }
    }
    if _, err := g.Repo.GetSession(ctx, sessionID); err != nil {
        return err
    }
    if err := g.Repo.UpsertGuide(ctx, &pkg.SessionGuide{
        SessionID:             sessionID,
        QuestionSuggestions:   questions,
        DepartmentSuggestions: departments,
    }); err != nil {
        return fmt.Errorf("store guide: %w", err)
    }
    notify(ctx, g.Notifier, g.Log, sessionID)
    return nil
}

// GenerateSuggestions replaces the guide's questions with the canned list
// for the caller's language.  The department list is left as it is.
func (g *GuideService) GenerateSuggestions(ctx context.Context, sessionID int64) ([]pkg.QuestionSuggestion, error) {
    sess, err := g.Repo.GetSession(ctx, sessionID)
    if err != nil {
        return nil, err
    }
    caller, err := g.Repo.GetCaller(ctx, sess.CallerID)
    if err != nil {
        return nil, err
    }
    questions := CannedQuestions(caller.Language)
    if err := g.Repo.ReplaceGuideQuestions(ctx, sessionID, questions); err != nil {
        return nil, fmt.Errorf("store guide: %w", err)
    }
    notify(ctx, g.Notifier, g.Log, sessionID)
    return questions, nil
}
