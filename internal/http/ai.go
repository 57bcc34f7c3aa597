package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"emergency-call-backend/internal/core"
)

// multipartMemory is how much of a multipart upload is buffered in memory
// before net/http spills to disk.
const multipartMemory = 8 << 20

// audioUpload opens the audio_file part of a multipart request.  The returned
// closer also drops any spill files net/http created.
func (s *Server) audioUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, func(), error) {
	if s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, nil, nil, &detailError{msg: "audio file exceeds " + strconv.FormatInt(tooBig.Limit, 10) + " bytes"}
		}
		return nil, nil, nil, &detailError{msg: "expected multipart form: " + err.Error()}
	}
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		return nil, nil, nil, &detailError{msg: "audio_file is required"}
	}
	return file, header, func() {
		_ = file.Close()
		_ = r.MultipartForm.RemoveAll()
	}, nil
}

// handleProcessAudio runs transcription and summary on an uploaded clip and
// optionally stores both in a session.
func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	file, header, done, err := s.audioUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer done()

	req := core.AudioRequest{
		Audio:          file,
		Filename:       header.Filename,
		TargetLanguage: r.FormValue("target_language"),
	}
	if raw := strings.TrimSpace(r.FormValue("session_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, r, "session_id must be an integer")
			return
		}
		req.SessionID = &id
	}

	res, err := s.Pipeline.ProcessAudio(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":      res.SessionID,
		"transcript":      res.Transcript,
		"summary":         res.Summary,
		"target_language": res.TargetLanguage,
		"message":         "Audio processed successfully",
	})
}

// handleTranscribeOnly returns the transcript of an uploaded clip.
func (s *Server) handleTranscribeOnly(w http.ResponseWriter, r *http.Request) {
	file, header, done, err := s.audioUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer done()

	text, err := s.Pipeline.TranscribeUpload(r.Context(), file, header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

// handleTranslateText translates free text.  Clients that send no body can
// pass text and target_language as query parameters.
func (s *Server) handleTranslateText(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
		req.Text = r.URL.Query().Get("text")
		req.TargetLanguage = r.URL.Query().Get("target_language")
	case err != nil:
		badRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(w, r, "text is required")
		return
	}
	lang := strings.TrimSpace(req.TargetLanguage)
	if lang == "" {
		lang = "english"
	}

	translated, err := s.Pipeline.Translate(r.Context(), []string{req.Text}, lang)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"original":        req.Text,
		"translated":      translated,
		"target_language": lang,
	})
}

type extractionRequest struct {
	Transcript     string   `json:"transcript"`
	Summary        []string `json:"summary"`
	TargetLanguage string   `json:"target_language"`
}

func (s *Server) decodeExtraction(w http.ResponseWriter, r *http.Request) (extractionRequest, bool) {
	var req extractionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return req, false
	}
	if strings.TrimSpace(req.Transcript) == "" {
		badRequest(w, r, "transcript is required")
		return req, false
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		req.TargetLanguage = "english"
	}
	return req, true
}

// extractionResponse renders an Extraction under key.  Degraded results still
// answer 200.
func extractionResponse[T any](key, okMessage string, res core.Extraction[T]) map[string]any {
	body := map[string]any{
		key:        res.Items,
		"message":  okMessage,
		"degraded": res.Degraded,
	}
	if res.Degraded {
		body["message"] = "Fallback " + key + " returned"
		body["reason"] = res.Reason
	}
	return body
}

// handleGenerateRecommendations extracts advice for the agent from a
// transcript.
func (s *Server) handleGenerateRecommendations(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExtraction(w, r)
	if !ok {
		return
	}
	res := s.Pipeline.Recommendations(r.Context(), req.Transcript, req.Summary, req.TargetLanguage)
	writeJSON(w, http.StatusOK, extractionResponse("recommendations", "Recommendations generated successfully", res))
}

// handleGenerateAgentSuggestions extracts next questions for the agent from a
// transcript.
func (s *Server) handleGenerateAgentSuggestions(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExtraction(w, r)
	if !ok {
		return
	}
	res := s.Pipeline.AgentSuggestions(r.Context(), req.Transcript, req.Summary, req.TargetLanguage)
	writeJSON(w, http.StatusOK, extractionResponse("suggestions", "Agent suggestions generated successfully", res))
}
