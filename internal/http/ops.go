package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"emergency-call-backend/internal/roster"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Emergency Call Backend API",
		"status":  "running",
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Calls.Agents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

type seedAgentRequest struct {
	FullName         string `json:"fullname"`
	Sex              string `json:"sex"`
	HospitalLocation string `json:"hospital_location"`
	Language         string `json:"language"`
}

// handleSeedAgent inserts one available agent.  Fields left out of the body,
// or the whole body, fall back to the default roster agent.
func (s *Server) handleSeedAgent(w http.ResponseWriter, r *http.Request) {
	var req seedAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}
	agent := roster.Default()
	if v := strings.TrimSpace(req.FullName); v != "" {
		agent.FullName = v
	}
	if v := strings.TrimSpace(req.Sex); v != "" {
		agent.Sex = v
	}
	if v := strings.TrimSpace(req.HospitalLocation); v != "" {
		agent.HospitalLocation = v
	}
	if v := strings.TrimSpace(req.Language); v != "" {
		agent.Language = strings.ToLower(v)
	}
	if err := s.Calls.AddAgent(r.Context(), &agent); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Agent seeded successfully",
		"agent":   agent,
	})
}

// handleHealth pings the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Repo.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
	})
}

// handleTestBackend reports which AI backends are wired.
func (s *Server) handleTestBackend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Backend is working",
		"llm_configured": s.Pipeline.LLM.Configured(),
		"transcriber":    s.Pipeline.Transcriber.Name(),
	})
}
