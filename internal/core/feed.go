package core

import (
    "context"

    "emergency-call-backend/internal/db"
    "emergency-call-backend/pkg"
)

// FeedComposer builds the live-feed view of a session.
type FeedComposer struct {
    Repo *db.Repository
}

// NewFeedComposer constructs a FeedComposer.
func NewFeedComposer(repo *db.Repository) *FeedComposer {
    return &FeedComposer{Repo: repo}
}

// LiveFeed returns every message of the session in creation order and the
// guide questions not yet asked, in stored order.  Both lists are empty
// rather than nil when there is nothing to show.
func (f *FeedComposer) LiveFeed(ctx context.Context, sessionID int64) (*pkg.LiveFeed, error) {
    if _, err := f.Repo.GetSession(ctx, sessionID); err != nil {
        return nil, err
    }
    msgs, err := f.Repo.ListMessages(ctx, sessionID)
    if err != nil {
        return nil, err
    }
    guide, err := f.Repo.GetGuide(ctx, sessionID)
    if err != nil {
        return nil, err
    }

    feed := &pkg.LiveFeed{
        SessionID:   sessionID,
        Messages:    make([]pkg.FeedMessage, 0, len(msgs)),
        Suggestions: []string{},
    }
    for _, m := range msgs {
        feed.Messages = append(feed.Messages, pkg.FeedMessage{
            SenderType:      m.SenderType,
            Message:         m.Message,
            ConfidenceScore: m.ConfidenceScore,
            Unresolved:      m.Unresolved,
        })
    }
    if guide != nil {
        for _, q := range guide.QuestionSuggestions {
            if q.Status == pkg.QuestionNotAsked {
                feed.Suggestions = append(feed.Suggestions, q.Question)
            }
        }
    }
    return feed, nil
}
