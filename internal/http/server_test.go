package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"emergency-call-backend/internal/core"
	"emergency-call-backend/internal/db"
	"emergency-call-backend/internal/feed"
	"emergency-call-backend/internal/logger"
	"emergency-call-backend/pkg"
)

var memCounter atomic.Int64

type stubLLM struct {
	configured bool
	reply      func(prompt string) (string, error)
}

func (s *stubLLM) Configured() bool { return s.configured }

func (s *stubLLM) Complete(_ context.Context, prompt string) (string, error) {
	return s.reply(prompt)
}

type stubTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	paths []string
}

func (s *stubTranscriber) Name() string { return "stub" }

func (s *stubTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return s.text, s.err
}

type testEnv struct {
	srv      *Server
	repo     *db.Repository
	llm      *stubLLM
	speech   *stubTranscriber
	tempDir  string
	agentIDs []int64
}

func newTestEnv(t *testing.T, agents int) *testEnv {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:httptest%d?mode=memory&cache=shared", memCounter.Add(1))
	conn, err := db.Connect(ctx, db.DriverSQLite, dsn, time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.Migrate(ctx, conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := db.NewRepository(conn)
	log := logger.Discard()
	hub := feed.NewHub()
	env := &testEnv{
		repo:    repo,
		llm:     &stubLLM{configured: true, reply: func(string) (string, error) { return "- ok", nil }},
		speech:  &stubTranscriber{text: "hello"},
		tempDir: t.TempDir(),
	}
	calls := core.NewCallService(repo, hub, log.Entry)
	messages := core.NewMessageService(repo, hub, log.Entry)
	env.srv = NewServer(Services{
		Repo:     repo,
		Calls:    calls,
		Messages: messages,
		Guides:   core.NewGuideService(repo, hub, log.Entry),
		Feed:     core.NewFeedComposer(repo),
		Pipeline: &core.Pipeline{
			LLM:         env.llm,
			Transcriber: env.speech,
			Messages:    messages,
			Repo:        repo,
			TempDir:     env.tempDir,
			Log:         log.Entry,
		},
		Hub: hub,
	}, log, 1<<20)

	for i := 0; i < agents; i++ {
		a := &pkg.Agent{FullName: fmt.Sprintf("Agent %d", i), Language: "french"}
		if err := calls.AddAgent(ctx, a); err != nil {
			t.Fatal(err)
		}
		env.agentIDs = append(env.agentIDs, a.ID)
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (e *testEnv) startCall(t *testing.T, language string) int64 {
	t.Helper()
	rec, out := e.do(t, http.MethodPost, "/start-call", map[string]string{
		"fullname": "Jane Doe", "phone_number": "+33600000000", "language": language, "location": "Paris", "sex": "female",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start-call status %d: %s", rec.Code, rec.Body.String())
	}
	return int64(out["session_id"].(float64))
}

func (e *testEnv) upload(t *testing.T, path string, fields map[string]string, withFile bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if withFile {
		fw, err := mw.CreateFormFile("audio_file", "call.wav")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte("RIFF fake wav"))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (e *testEnv) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("temporary audio left behind: %d files", len(entries))
	}
}

func TestStartCall(t *testing.T) {
	env := newTestEnv(t, 1)
	rec, out := env.do(t, http.MethodPost, "/start-call", map[string]string{"fullname": "Jane Doe", "language": "english"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if out["agent_name"] != "Agent 0" || out["caller_name"] != "Jane Doe" || out["agent_language"] != "french" {
		t.Fatalf("unexpected body %v", out)
	}
	if out["message"] != "Call started and assigned to available agent" {
		t.Fatalf("message = %v", out["message"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}

	rec, out = env.do(t, http.MethodPost, "/start-call", map[string]string{"fullname": "Second"})
	if rec.Code != http.StatusServiceUnavailable || out["detail"] != "No available agents at the moment" {
		t.Fatalf("second call: %d %v", rec.Code, out)
	}

	rec, _ = env.do(t, http.MethodPost, "/start-call", map[string]string{"phone_number": "1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fullname: %d", rec.Code)
	}
}

func TestStartCall_ConcurrentRequestsClaimOnce(t *testing.T) {
	env := newTestEnv(t, 1)
	codes := make([]int, 4)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := strings.NewReader(fmt.Sprintf(`{"fullname":"caller %d"}`, i))
			req := httptest.NewRequest(http.MethodPost, "/start-call", body)
			rec := httptest.NewRecorder()
			env.srv.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, c := range codes {
		switch c {
		case http.StatusOK:
			ok++
		case http.StatusServiceUnavailable:
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", ok)
	}
}

func TestSendMessage_AndLiveFeed(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startCall(t, "english")

	rec, out := env.do(t, http.MethodPost, "/send-message", map[string]any{
		"session_id": id, "sender_type": "caller", "message": "My husband is not breathing", "confidence_score": 0.7,
	})
	if rec.Code != http.StatusOK || out["message"] != "Message stored successfully" || out["emergency"] != true {
		t.Fatalf("send-message: %d %v", rec.Code, out)
	}
	rec, out = env.do(t, http.MethodPost, "/send-message", map[string]any{
		"session_id": id, "sender_type": "agent", "message": "Help is on the way", "unresolved": true,
	})
	if rec.Code != http.StatusOK || out["emergency"] != false {
		t.Fatalf("second send-message: %d %v", rec.Code, out)
	}

	sess, _ := env.repo.GetSession(context.Background(), id)
	if sess.Status != pkg.SessionEmergency {
		t.Fatalf("status = %s", sess.Status)
	}

	rec, out = env.do(t, http.MethodGet, fmt.Sprintf("/live-feed/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("live-feed: %d", rec.Code)
	}
	msgs := out["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", msgs)
	}
	first := msgs[0].(map[string]any)
	second := msgs[1].(map[string]any)
	if first["sender_type"] != "caller" || first["confidence_score"] != 0.7 {
		t.Fatalf("first = %v", first)
	}
	if second["confidence_score"] != nil || second["unresolved"] != true {
		t.Fatalf("second = %v", second)
	}
	if s := out["suggestions"].([]any); len(s) != 0 {
		t.Fatalf("suggestions = %v", s)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startCall(t, "english")

	rec, out := env.do(t, http.MethodPost, "/send-message", map[string]any{"session_id": 999, "sender_type": "caller", "message": "hi"})
	if rec.Code != http.StatusNotFound || out["detail"] != "Chat session not found" {
		t.Fatalf("unknown session: %d %v", rec.Code, out)
	}
	rec, _ = env.do(t, http.MethodPost, "/send-message", map[string]any{"session_id": id, "sender_type": "doctor", "message": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad sender: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/send-message", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", rr.Code)
	}

	rec, _ = env.do(t, http.MethodGet, "/live-feed/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing live feed: %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/live-feed/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id: %d", rec.Code)
	}
}

func TestUpdateSuggestions_ReplacesList(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startCall(t, "english")

	rec, out := env.do(t, http.MethodPost, "/update-suggestions", map[string]any{
		"session_id": id,
		"question_suggestions": []map[string]any{
			{"question": "Where are you?", "priority": 1, "status": "not_asked"},
			{"question": "Is anyone hurt?", "priority": 2, "status": "not_asked"},
			{"question": "What happened?", "priority": 3, "status": "asked"},
		},
		"department_suggestions": []string{"cardiology"},
	})
	if rec.Code != http.StatusOK || out["message"] != "Suggestions updated" {
		t.Fatalf("first update: %d %v", rec.Code, out)
	}
	rec, _ = env.do(t, http.MethodPost, "/update-suggestions", map[string]any{
		"session_id": id,
		"question_suggestions": []map[string]any{
			{"question": "Is anyone hurt?", "priority": 1, "status": "not_asked"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second update: %d", rec.Code)
	}

	_, feedBody := env.do(t, http.MethodGet, fmt.Sprintf("/live-feed/%d", id), nil)
	suggestions := feedBody["suggestions"].([]any)
	if len(suggestions) != 1 || suggestions[0] != "Is anyone hurt?" {
		t.Fatalf("suggestions = %v", suggestions)
	}

	rec, _ = env.do(t, http.MethodPost, "/update-suggestions", map[string]any{"session_id": 999, "question_suggestions": []any{}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: %d", rec.Code)
	}
}

func TestGenerateSuggestions(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startCall(t, "French")

	rec, out := env.do(t, http.MethodPost, fmt.Sprintf("/generate-suggestions/%d", id), nil)
	if rec.Code != http.StatusOK || out["message"] != "Suggestions generated and saved" {
		t.Fatalf("generate: %d %v", rec.Code, out)
	}
	qs := out["questions"].([]any)
	if len(qs) != 2 || qs[0].(map[string]any)["question"] != "Avez-vous des douleurs thoraciques ?" {
		t.Fatalf("questions = %v", qs)
	}

	rec, _ = env.do(t, http.MethodPost, "/generate-suggestions/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: %d", rec.Code)
	}
}

func TestEndCall(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startCall(t, "english")

	rec, out := env.do(t, http.MethodPost, fmt.Sprintf("/end-call/%d", id), nil)
	if rec.Code != http.StatusOK || out["status"] != "completed" {
		t.Fatalf("end-call: %d %v", rec.Code, out)
	}
	env.startCall(t, "english")
}

func TestProcessAudio(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startCall(t, "english")
	env.speech.text = "There was a car crash"
	env.llm.reply = func(prompt string) (string, error) {
		if !strings.Contains(prompt, "into spanish") {
			return "", fmt.Errorf("unexpected prompt %q", prompt)
		}
		return "- Accidente de coche\n- Una persona herida", nil
	}

	rec, out := env.upload(t, "/process-audio", map[string]string{
		"session_id": fmt.Sprint(id), "target_language": "spanish",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("process-audio: %d %s", rec.Code, rec.Body.String())
	}
	if out["transcript"] != "There was a car crash" || out["message"] != "Audio processed successfully" {
		t.Fatalf("body = %v", out)
	}
	if summary := out["summary"].([]any); len(summary) != 2 {
		t.Fatalf("summary = %v", summary)
	}
	env.assertTempDirEmpty(t)

	msgs, _ := env.repo.ListMessages(context.Background(), id)
	if len(msgs) != 2 || msgs[0].SenderType != pkg.SenderCaller || msgs[1].SenderType != pkg.SenderAI {
		t.Fatalf("persisted messages = %+v", msgs)
	}
}

func TestProcessAudio_FailureStillCleansUp(t *testing.T) {
	env := newTestEnv(t, 0)
	env.speech.err = fmt.Errorf("%w: decoder crashed", pkg.ErrTranscriptionFailed)

	rec, _ := env.upload(t, "/process-audio", nil, true)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.speech.paths) != 1 {
		t.Fatalf("transcriber calls = %d", len(env.speech.paths))
	}
	env.assertTempDirEmpty(t)

	rec, _ = env.upload(t, "/process-audio", nil, false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: %d", rec.Code)
	}
	rec, _ = env.upload(t, "/process-audio", map[string]string{"session_id": "404"}, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: %d", rec.Code)
	}
}

func TestProcessAudio_NoCredential(t *testing.T) {
	env := newTestEnv(t, 0)
	env.llm.configured = false
	rec, out := env.upload(t, "/process-audio", nil, true)
	if rec.Code != http.StatusInternalServerError || out["detail"] != "AI backend not configured" {
		t.Fatalf("status %d body %v", rec.Code, out)
	}
	env.assertTempDirEmpty(t)
}

func TestTranscribeOnly(t *testing.T) {
	env := newTestEnv(t, 0)
	env.speech.text = "just the words"
	rec, out := env.upload(t, "/transcribe-only", nil, true)
	if rec.Code != http.StatusOK || out["transcript"] != "just the words" {
		t.Fatalf("status %d body %v", rec.Code, out)
	}
	env.assertTempDirEmpty(t)
}

func TestTranslateText(t *testing.T) {
	env := newTestEnv(t, 0)
	env.llm.reply = func(string) (string, error) { return "- Bonjour", nil }

	rec, out := env.do(t, http.MethodPost, "/translate-text", map[string]string{"text": "Hello", "target_language": "French"})
	if rec.Code != http.StatusOK || out["original"] != "Hello" || out["target_language"] != "French" {
		t.Fatalf("json body: %d %v", rec.Code, out)
	}
	if tr := out["translated"].([]any); len(tr) != 1 || tr[0] != "Bonjour" {
		t.Fatalf("translated = %v", tr)
	}

	rec, out = env.do(t, http.MethodPost, "/translate-text?text=Hello&target_language=French", nil)
	if rec.Code != http.StatusOK || out["original"] != "Hello" {
		t.Fatalf("query fallback: %d %v", rec.Code, out)
	}

	env.llm.reply = func(string) (string, error) { return "", fmt.Errorf("%w: 500", pkg.ErrAIBackend) }
	rec, _ = env.do(t, http.MethodPost, "/translate-text", map[string]string{"text": "Hello"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure: %d", rec.Code)
	}
}

func TestGenerateRecommendations_FallbackStillSucceeds(t *testing.T) {
	env := newTestEnv(t, 0)
	env.llm.reply = func(string) (string, error) { return "", fmt.Errorf("%w: timeout", pkg.ErrAIBackend) }

	rec, out := env.do(t, http.MethodPost, "/generate-recommendations", map[string]any{"transcript": "a man collapsed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if out["degraded"] != true || out["reason"] == nil {
		t.Fatalf("expected degraded response, got %v", out)
	}
	recs := out["recommendations"].([]any)
	if len(recs) != 3 || recs[0].(map[string]any)["title"] != "Scene Assessment" {
		t.Fatalf("recommendations = %v", recs)
	}

	rec, _ = env.do(t, http.MethodPost, "/generate-recommendations", map[string]any{"summary": []string{"x"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing transcript: %d", rec.Code)
	}
}

func TestGenerateAgentSuggestions(t *testing.T) {
	env := newTestEnv(t, 0)
	env.llm.reply = func(string) (string, error) {
		return `[{"id":"s1","category":"medical","suggestion":"Is he breathing?","priority":10,"reasoning":"airway"}]`, nil
	}
	rec, out := env.do(t, http.MethodPost, "/generate-agent-suggestions", map[string]any{"transcript": "he fell"})
	if rec.Code != http.StatusOK || out["degraded"] != false {
		t.Fatalf("status %d body %v", rec.Code, out)
	}
	if _, ok := out["reason"]; ok {
		t.Fatal("reason should be omitted when not degraded")
	}
	s := out["suggestions"].([]any)
	if len(s) != 1 || s[0].(map[string]any)["id"] != "s1" {
		t.Fatalf("suggestions = %v", s)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	rec, out := env.do(t, http.MethodPost, "/seed-agent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed-agent: %d", rec.Code)
	}
	if agent := out["agent"].(map[string]any); agent["fullname"] != "Dr. Mathias Brunel" || agent["status"] != "available" {
		t.Fatalf("seeded = %v", agent)
	}
	rec, _ = env.do(t, http.MethodPost, "/seed-agent", map[string]string{"fullname": "Dr. Ada Obi", "language": "English"})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed-agent with body: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	var agents []pkg.Agent
	if err := json.Unmarshal(rr.Body.Bytes(), &agents); err != nil {
		t.Fatal(err)
	}
	if len(agents) != 2 || agents[1].FullName != "Dr. Ada Obi" || agents[1].Language != "english" {
		t.Fatalf("agents = %+v", agents)
	}

	rec, out = env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || out["database"] != "connected" {
		t.Fatalf("health: %d %v", rec.Code, out)
	}
	rec, out = env.do(t, http.MethodGet, "/test-backend", nil)
	if rec.Code != http.StatusOK || out["llm_configured"] != true || out["transcriber"] != "stub" {
		t.Fatalf("test-backend: %d %v", rec.Code, out)
	}
	rec, _ = env.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("root: %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/start-call", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: %d", rec.Code)
	}
}

func TestLiveFeedStream_PushesUpdates(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startCall(t, "english")
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + fmt.Sprintf("/live-feed/%d/stream", id)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot pkg.LiveFeed
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.SessionID != id || len(snapshot.Messages) != 0 {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	body := strings.NewReader(fmt.Sprintf(`{"session_id":%d,"sender_type":"caller","message":"hello"}`, id))
	resp, err := http.Post(ts.URL+"/send-message", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var update pkg.LiveFeed
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if len(update.Messages) != 1 || update.Messages[0].Message != "hello" {
		t.Fatalf("update = %+v", update)
	}

	resp, err = http.Get(ts.URL + "/live-feed/999/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session stream: %d", resp.StatusCode)
	}
}
