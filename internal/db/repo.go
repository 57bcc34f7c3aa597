package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"emergency-call-backend/pkg"
)

// claimAttempts bounds how many candidate agents OpenSession tries before it
// reports that nobody is available.  A candidate is lost only when another
// transaction claims it between our SELECT and UPDATE.
const claimAttempts = 5

// Repository wraps database operations for callers, agents, sessions,
// messages and session guides.  All SQL uses $N placeholders in ascending
// order so the same statements run on PostgreSQL and SQLite.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// Ping checks that the database still answers.
func (r *Repository) Ping(ctx context.Context) error { return r.DB.PingContext(ctx) }

// CreateAgent inserts a new agent and fills in its ID.
func (r *Repository) CreateAgent(ctx context.Context, a *pkg.Agent) error {
	if a.Status == "" {
		a.Status = pkg.AgentAvailable
	}
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO user_agent (fullname, sex, hospital_location, status, language)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id`,
		a.FullName, a.Sex, a.HospitalLocation, a.Status, a.Language,
	).Scan(&a.ID)
}

// CountAgents returns the number of agents regardless of status.
func (r *Repository) CountAgents(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_agent`).Scan(&n)
	return n, err
}

// ListAgents returns all agents in storage order.
func (r *Repository) ListAgents(ctx context.Context) ([]pkg.Agent, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, fullname, sex, hospital_location, status, language
         FROM user_agent
         ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents := []pkg.Agent{}
	for rows.Next() {
		var a pkg.Agent
		if err := rows.Scan(&a.ID, &a.FullName, &a.Sex, &a.HospitalLocation, &a.Status, &a.Language); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// OpenSession records the caller, claims the first available agent and opens
// an ongoing session, all inside one transaction.  When no agent can be
// claimed the transaction is rolled back and pkg.ErrNoAgentAvailable is
// returned, so neither a caller nor a session is persisted.
func (r *Repository) OpenSession(ctx context.Context, caller *pkg.Caller) (*pkg.Session, *pkg.Agent, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO user_caller (fullname, sex, location, phone_number, language)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id`,
		caller.FullName, caller.Sex, caller.Location, caller.PhoneNumber, caller.Language,
	).Scan(&caller.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("insert caller: %w", err)
	}

	agent, err := claimAgent(ctx, tx)
	if err != nil {
		return nil, nil, err
	}

	sess := &pkg.Session{
		CallerID:  caller.ID,
		AgentID:   agent.ID,
		Status:    pkg.SessionOngoing,
		StartedAt: time.Now().UTC(),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO chat_session (user_caller_id, user_agent_id, started_at, status)
         VALUES ($1, $2, $3, $4)
         RETURNING id`,
		sess.CallerID, sess.AgentID, sess.StartedAt, sess.Status,
	).Scan(&sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return sess, agent, nil
}

// claimAgent picks the first available agent and flips it to occupied with a
// conditional update.  If a concurrent transaction got there first the update
// touches no row and the next candidate is tried.
func claimAgent(ctx context.Context, tx *sql.Tx) (*pkg.Agent, error) {
	for i := 0; i < claimAttempts; i++ {
		var a pkg.Agent
		err := tx.QueryRowContext(ctx,
			`SELECT id, fullname, sex, hospital_location, status, language
             FROM user_agent
             WHERE status = $1
             ORDER BY id ASC
             LIMIT 1`, pkg.AgentAvailable,
		).Scan(&a.ID, &a.FullName, &a.Sex, &a.HospitalLocation, &a.Status, &a.Language)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkg.ErrNoAgentAvailable
		}
		if err != nil {
			return nil, fmt.Errorf("select agent: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE user_agent SET status = $1 WHERE id = $2 AND status = $3`,
			pkg.AgentOccupied, a.ID, pkg.AgentAvailable)
		if err != nil {
			return nil, fmt.Errorf("claim agent: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			a.Status = pkg.AgentOccupied
			return &a, nil
		}
	}
	return nil, pkg.ErrNoAgentAvailable
}

// CloseSession completes a session and hands its agent back to the pool.
// Closing an already completed session is a no-op.
func (r *Repository) CloseSession(ctx context.Context, sessionID int64) (*pkg.Session, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sess, err := scanSession(tx.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, sessionID))
	if err != nil {
		return nil, err
	}
	if sess.Status == pkg.SessionCompleted {
		return sess, nil
	}

	ended := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_session SET status = $1, ended_at = $2 WHERE id = $3`,
		pkg.SessionCompleted, ended, sessionID); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_agent SET status = $1 WHERE id = $2 AND status = $3`,
		pkg.AgentAvailable, sess.AgentID, pkg.AgentOccupied); err != nil {
		return nil, fmt.Errorf("release agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sess.Status = pkg.SessionCompleted
	sess.EndedAt = &ended
	return sess, nil
}

const sessionSelect = `SELECT id, user_caller_id, user_agent_id, status, started_at, ended_at FROM chat_session`

func scanSession(row *sql.Row) (*pkg.Session, error) {
	var s pkg.Session
	var ended sql.NullTime
	err := row.Scan(&s.ID, &s.CallerID, &s.AgentID, &s.Status, &s.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// GetSession loads a session by ID or returns pkg.ErrSessionNotFound.
func (r *Repository) GetSession(ctx context.Context, sessionID int64) (*pkg.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, sessionSelect+` WHERE id = $1`, sessionID))
}

// GetCaller loads a caller by ID or returns pkg.ErrCallerNotFound.
func (r *Repository) GetCaller(ctx context.Context, callerID int64) (*pkg.Caller, error) {
	var c pkg.Caller
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, fullname, sex, location, phone_number, language
         FROM user_caller
         WHERE id = $1`, callerID,
	).Scan(&c.ID, &c.FullName, &c.Sex, &c.Location, &c.PhoneNumber, &c.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrCallerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkEmergency moves an ongoing session to the emergency state.  It reports
// whether the row changed; sessions already in emergency or completed are
// left alone.
func (r *Repository) MarkEmergency(ctx context.Context, sessionID int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE chat_session SET status = $1 WHERE id = $2 AND status = $3`,
		pkg.SessionEmergency, sessionID, pkg.SessionOngoing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateMessage appends a message to a session.  A zero CreatedAt is set to
// the current time.
func (r *Repository) CreateMessage(ctx context.Context, m *pkg.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO chat_message (session_id, sender_type, message, created_at, confidence_score, unresolved)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id`,
		m.SessionID, m.SenderType, m.Message, m.CreatedAt, m.ConfidenceScore, m.Unresolved,
	).Scan(&m.ID)
}

// ListMessages returns every message of a session ordered by creation time.
// Messages created at the same instant keep insertion order.
func (r *Repository) ListMessages(ctx context.Context, sessionID int64) ([]pkg.Message, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, sender_type, message, created_at, confidence_score, unresolved
         FROM chat_message
         WHERE session_id = $1
         ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := []pkg.Message{}
	for rows.Next() {
		var m pkg.Message
		var conf sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderType, &m.Message, &m.CreatedAt, &conf, &m.Unresolved); err != nil {
			return nil, err
		}
		if conf.Valid {
			v := conf.Float64
			m.ConfidenceScore = &v
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetGuide returns the guide of a session, or nil when none exists yet.
func (r *Repository) GetGuide(ctx context.Context, sessionID int64) (*pkg.SessionGuide, error) {
	var g pkg.SessionGuide
	var questions, departments []byte
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, session_id, question_suggestions, department_suggestions
         FROM chat_session_guide
         WHERE session_id = $1`, sessionID,
	).Scan(&g.ID, &g.SessionID, &questions, &departments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questions, &g.QuestionSuggestions); err != nil {
		return nil, fmt.Errorf("decode question suggestions: %w", err)
	}
	if err := json.Unmarshal(departments, &g.DepartmentSuggestions); err != nil {
		return nil, fmt.Errorf("decode department suggestions: %w", err)
	}
	return &g, nil
}

// UpsertGuide replaces both suggestion lists of a session guide, creating the
// guide if needed.  Nothing from the previous lists survives.
func (r *Repository) UpsertGuide(ctx context.Context, g *pkg.SessionGuide) error {
	questions, departments, err := encodeGuide(g.QuestionSuggestions, g.DepartmentSuggestions)
	if err != nil {
		return err
	}
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO chat_session_guide (session_id, question_suggestions, department_suggestions)
         VALUES ($1, $2, $3)
         ON CONFLICT (session_id) DO UPDATE
         SET question_suggestions = excluded.question_suggestions,
             department_suggestions = excluded.department_suggestions
         RETURNING id`,
		g.SessionID, questions, departments,
	).Scan(&g.ID)
}

// ReplaceGuideQuestions replaces only the question list of a guide.  A new
// guide starts with an empty department list.
func (r *Repository) ReplaceGuideQuestions(ctx context.Context, sessionID int64, questions []pkg.QuestionSuggestion) error {
	q, d, err := encodeGuide(questions, nil)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO chat_session_guide (session_id, question_suggestions, department_suggestions)
         VALUES ($1, $2, $3)
         ON CONFLICT (session_id) DO UPDATE
         SET question_suggestions = excluded.question_suggestions`,
		sessionID, q, d)
	return err
}

func encodeGuide(questions []pkg.QuestionSuggestion, departments []string) (string, string, error) {
	if questions == nil {
		questions = []pkg.QuestionSuggestion{}
	}
	if departments == nil {
		departments = []string{}
	}
	q, err := json.Marshal(questions)
	if err != nil {
		return "", "", err
	}
	d, err := json.Marshal(departments)
	if err != nil {
		return "", "", err
	}
	return string(q), string(d), nil
}
