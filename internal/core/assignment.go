package core

import (
    "context"
    "errors"
    "fmt"
    "strings"

    "github.com/sirupsen/logrus"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"

    "emergency-call-backend/internal/db"
    "emergency-call-backend/internal/logger"
    "emergency-call-backend/pkg"
)

// Notifier is told whenever something visible in a session's live feed
// changes.  Implementations must not block for long.
type Notifier interface {
    Notify(ctx context.Context, sessionID int64) error
}

// Assignment is the outcome of a successful StartCall.
type Assignment struct {
    Session *pkg.Session
    Agent   *pkg.Agent
    Caller  *pkg.Caller
}

// CallService is the only writer of agent status.  It opens sessions by
// claiming an available agent and closes them by releasing it.
type CallService struct {
    Repo     *db.Repository
    Notifier Notifier
    Log      *logrus.Entry
}

// NewCallService constructs a CallService.
func NewCallService(repo *db.Repository, notifier Notifier, log *logrus.Entry) *CallService {
    return &CallService{Repo: repo, Notifier: notifier, Log: log}
}

// StartCall records the caller and assigns the first available agent.
// pkg.ErrNoAgentAvailable is returned, with nothing persisted, when every
// agent is occupied.
func (s *CallService) StartCall(ctx context.Context, caller pkg.Caller) (*Assignment, error) {
    caller.FullName = strings.TrimSpace(caller.FullName)
    if caller.FullName == "" {
        return nil, fmt.Errorf("%w: fullname is required", pkg.ErrInvalidInput)
    }

    ctx, span := tracer.Start(ctx, "call.start")
    defer span.End()

    sess, agent, err := s.Repo.OpenSession(ctx, &caller)
    if errors.Is(err, pkg.ErrNoAgentAvailable) {
        count(ctx, "calls.rejected", "Calls rejected because no agent was available")
        logger.FromContext(ctx, s.Log).WithField("caller", caller.FullName).Warn("no available agent")
        return nil, err
    }
    if err != nil {
        span.RecordError(err)
        span.SetStatus(codes.Error, err.Error())
        return nil, fmt.Errorf("open session: %w", err)
    }

    span.SetAttributes(attribute.Int64("session.id", sess.ID), attribute.Int64("agent.id", agent.ID))
    count(ctx, "calls.started", "Calls assigned to an agent")
    logger.FromContext(ctx, s.Log).WithFields(logrus.Fields{
        "session_id": sess.ID,
        "agent_id":   agent.ID,
    }).Info("call assigned")
    return &Assignment{Session: sess, Agent: agent, Caller: &caller}, nil
}

// EndCall completes a session and returns its agent to the pool.
func (s *CallService) EndCall(ctx context.Context, sessionID int64) (*pkg.Session, error) {
    sess, err := s.Repo.CloseSession(ctx, sessionID)
    if err != nil {
        return nil, err
    }
    notify(ctx, s.Notifier, s.Log, sessionID)
    logger.FromContext(ctx, s.Log).WithField("session_id", sessionID).Info("call ended")
    return sess, nil
}

// SeedAgents inserts agents only when the table is empty and reports how
// many were added.
func (s *CallService) SeedAgents(ctx context.Context, agents []pkg.Agent) (int, error) {
    n, err := s.Repo.CountAgents(ctx)
    if err != nil {
        return 0, err
    }
    if n > 0 {
        return 0, nil
    }
    for i := range agents {
        if err := s.Repo.CreateAgent(ctx, &agents[i]); err != nil {
            return i, fmt.Errorf("seed agent %q: %w", agents[i].FullName, err)
        }
    }
    return len(agents), nil
}

// AddAgent inserts one available agent.
func (s *CallService) AddAgent(ctx context.Context, agent *pkg.Agent) error {
    agent.Status = pkg.AgentAvailable
    return s.Repo.CreateAgent(ctx, agent)
}

// Agents lists every agent.
func (s *CallService) Agents(ctx context.Context) ([]pkg.Agent, error) {
    return s.Repo.ListAgents(ctx)
}

// notify delivers a change event.  Failures are logged and dropped.
func notify(ctx context.Context, n Notifier, log *logrus.Entry, sessionID int64) {
    if n == nil {
        return
    }
    if err := n.Notify(ctx, sessionID); err != nil {
        logger.FromContext(ctx, log).WithError(err).WithField("session_id", sessionID).Warn("failed to publish feed change")
    }
}
