package http

import (
	"net/http"

	"emergency-call-backend/pkg"
)

type startCallRequest struct {
	FullName    string `json:"fullname"`
	PhoneNumber string `json:"phone_number"`
	Language    string `json:"language"`
	Location    string `json:"location"`
	Sex         string `json:"sex"`
}

// handleStartCall records the caller and assigns an available agent.
func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.Calls.StartCall(r.Context(), pkg.Caller{
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		Language:    req.Language,
		Location:    req.Location,
		Sex:         req.Sex,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     a.Session.ID,
		"agent_name":     a.Agent.FullName,
		"agent_language": a.Agent.Language,
		"caller_name":    a.Caller.FullName,
		"message":        "Call started and assigned to available agent",
	})
}

// handleEndCall completes a session and frees its agent.
func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.Calls.EndCall(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
		"ended_at":   sess.EndedAt,
		"message":    "Call ended",
	})
}

type sendMessageRequest struct {
	SessionID       int64          `json:"session_id"`
	SenderType      pkg.SenderType `json:"sender_type"`
	Message         string         `json:"message"`
	ConfidenceScore *float64       `json:"confidence_score"`
	Unresolved      bool           `json:"unresolved"`
}

// handleSendMessage appends a message and reports whether it escalated the
// session to an emergency.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	escalated, err := s.Messages.Send(r.Context(), &pkg.Message{
		SessionID:       req.SessionID,
		SenderType:      req.SenderType,
		Message:         req.Message,
		ConfidenceScore: req.ConfidenceScore,
		Unresolved:      req.Unresolved,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Message stored successfully",
		"emergency": escalated,
	})
}

// handleLiveFeed returns the composed feed of a session.
func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	feed, err := s.Feed.LiveFeed(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

type updateSuggestionsRequest struct {
	SessionID             int64                    `json:"session_id"`
	QuestionSuggestions   []pkg.QuestionSuggestion `json:"question_suggestions"`
	DepartmentSuggestions []string                 `json:"department_suggestions"`
}

// handleUpdateSuggestions replaces a session guide wholesale.
func (s *Server) handleUpdateSuggestions(w http.ResponseWriter, r *http.Request) {
	var req updateSuggestionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Guides.UpdateSuggestions(r.Context(), req.SessionID, req.QuestionSuggestions, req.DepartmentSuggestions); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Suggestions updated"})
}

// handleGenerateSuggestions fills the guide with the canned questions for the
// caller's language.
func (s *Server) handleGenerateSuggestions(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	questions, err := s.Guides.GenerateSuggestions(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Suggestions generated and saved",
		"questions": questions,
	})
}
