package pkg

import "time"

// Caller is the person who placed the emergency call.  Callers are created
// when a call starts and never modified afterwards.
type Caller struct {
    ID          int64  `json:"id"`
    FullName    string `json:"fullname"`
    PhoneNumber string `json:"phone_number"`
    Language    string `json:"language"`
    Location    string `json:"location"`
    Sex         string `json:"sex"`
}

// AgentStatus describes whether an agent can take a new call.
type AgentStatus string

const (
    AgentAvailable AgentStatus = "available"
    AgentOccupied  AgentStatus = "occupied"
)

// Agent is a human responder.  Only the assignment manager changes Status.
type Agent struct {
    ID               int64       `json:"id"`
    FullName         string      `json:"fullname"`
    Sex              string      `json:"sex"`
    HospitalLocation string      `json:"hospital_location"`
    Language         string      `json:"language"`
    Status           AgentStatus `json:"status"`
}

// SessionStatus is the lifecycle state of a call session.
type SessionStatus string

const (
    SessionOngoing   SessionStatus = "ongoing"
    SessionCompleted SessionStatus = "completed"
    SessionEmergency SessionStatus = "emergency"
)

// Session links one caller to one agent for the duration of a call.
type Session struct {
    ID        int64         `json:"id"`
    CallerID  int64         `json:"user_caller_id"`
    AgentID   int64         `json:"user_agent_id"`
    Status    SessionStatus `json:"status"`
    StartedAt time.Time     `json:"started_at"`
    EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// SenderType describes who authored a message.
type SenderType string

const (
    SenderCaller SenderType = "caller"
    SenderAgent  SenderType = "agent"
    SenderAI     SenderType = "ai"
)

// Valid reports whether s is one of the known sender roles.
func (s SenderType) Valid() bool {
    switch s {
    case SenderCaller, SenderAgent, SenderAI:
        return true
    }
    return false
}

// Message is a single entry in a session transcript.  ConfidenceScore is a
// probability in the range 0..1 (speech and language-model producers both
// write on this scale).
type Message struct {
    ID              int64      `json:"id"`
    SessionID       int64      `json:"session_id"`
    SenderType      SenderType `json:"sender_type"`
    Message         string     `json:"message"`
    ConfidenceScore *float64   `json:"confidence_score"`
    Unresolved      bool       `json:"unresolved"`
    CreatedAt       time.Time  `json:"created_at"`
}

// QuestionStatus tracks whether the agent already asked a suggested question.
type QuestionStatus string

const (
    QuestionAsked    QuestionStatus = "asked"
    QuestionNotAsked QuestionStatus = "not_asked"
)

// Valid reports whether s is one of the known question states.
func (s QuestionStatus) Valid() bool {
    return s == QuestionAsked || s == QuestionNotAsked
}

// QuestionSuggestion is one entry of a session guide.
type QuestionSuggestion struct {
    Question string         `json:"question"`
    Priority int            `json:"priority"`
    Status   QuestionStatus `json:"status"`
}

// SessionGuide holds the advisory state for a session.  There is at most one
// guide per session and both lists are always replaced wholesale.
type SessionGuide struct {
    ID                    int64                `json:"id"`
    SessionID             int64                `json:"session_id"`
    QuestionSuggestions   []QuestionSuggestion `json:"question_suggestions"`
    DepartmentSuggestions []string             `json:"department_suggestions"`
}

// FeedMessage is the caller-facing projection of a Message.
type FeedMessage struct {
    SenderType      SenderType `json:"sender_type"`
    Message         string     `json:"message"`
    ConfidenceScore *float64   `json:"confidence_score"`
    Unresolved      bool       `json:"unresolved"`
}

// LiveFeed is the composed, read-only view of a session.
type LiveFeed struct {
    SessionID   int64         `json:"session_id"`
    Messages    []FeedMessage `json:"messages"`
    Suggestions []string      `json:"suggestions"`
}

// Recommendation is an AI-generated piece of advice for the agent.
// Confidence is a percentage in the range 0..100, unlike
// Message.ConfidenceScore.
type Recommendation struct {
    ID         string `json:"id"`
    Type       string `json:"type"`     // advice | warning | protocol
    Priority   string `json:"priority"` // high | medium | low
    Title      string `json:"title"`
    Content    string `json:"content"`
    Confidence int    `json:"confidence"`
}

// AgentSuggestion is an AI-generated question or remark the agent could use
// next.  Priority runs from 1 (low) to 10 (critical).
type AgentSuggestion struct {
    ID         string `json:"id"`
    Category   string `json:"category"` // location | medical | safety | details | reassurance
    Suggestion string `json:"suggestion"`
    Priority   int    `json:"priority"`
    Reasoning  string `json:"reasoning"`
}
