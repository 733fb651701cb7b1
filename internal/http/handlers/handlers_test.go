package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yungbote/research-agent-backend/internal/agent"
	"github.com/yungbote/research-agent-backend/internal/data/repos"
	"github.com/yungbote/research-agent-backend/internal/data/repos/testutil"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/platform/openai"
	"github.com/yungbote/research-agent-backend/internal/realtime"
	"github.com/yungbote/research-agent-backend/internal/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type stubLLM struct {
	deltas    []string
	streamErr error
}

func (s *stubLLM) GenerateText(context.Context, string, string, openai.Options) (string, error) {
	return "intent: test", nil
}

func (s *stubLLM) StreamChat(_ context.Context, _ []openai.Message, _ openai.Options, onDelta func(string)) (string, error) {
	if s.streamErr != nil {
		return "", s.streamErr
	}
	full := ""
	for _, d := range s.deltas {
		onDelta(d)
		full += d
	}
	return full, nil
}

func (s *stubLLM) Model() string { return "stub" }

type testAPI struct {
	engine *gin.Engine
	pub    *realtime.Publisher
	runner *agent.Runner
}

func newTestAPI(t *testing.T, llm openai.Client, ping func(context.Context) error) *testAPI {
	t.Helper()
	log := logger.NewNop()
	store := testutil.MemoryStore(t)
	chatRepo := repos.NewChatRepo(store, log)
	msgRepo := repos.NewMessageRepo(store, log)
	pub := realtime.NewPublisher(log, nil)

	chain := services.NewChainStore(log, chatRepo, msgRepo, services.NewChainNotifier(pub), nil, services.ChainStoreConfig{})
	history := services.NewHistoryService(log, chatRepo, msgRepo, nil)
	chats := services.NewChatService(log, chatRepo)
	pipeline, err := agent.NewPipeline(log, nil, agent.ResearchSteps(log, llm, agent.DefaultConfig())...)
	require.NoError(t, err)
	runner := agent.NewRunner(log, nil, pipeline, chain, history, chats, pub, nil, agent.RunnerConfig{HistoryWindow: 10})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, runner.Shutdown(ctx))
	})

	chatH := NewChatHandler(ChatHandlerDeps{Log: log, Chats: chats, History: history, Runner: runner})
	msgH := NewMessageHandler(chain)
	agentH := NewAgentHandler(log, runner, 0)
	rtH := NewRealtimeHandler(log, pub, chats, 0)

	r := gin.New()
	r.GET("/healthcheck", NewHealthHandler(ping).HealthCheck)
	api := r.Group("/api")
	api.POST("/chats", chatH.CreateChat)
	api.GET("/chats/:id", chatH.GetChat)
	api.PATCH("/chats/:id", chatH.RenameChat)
	api.GET("/chats/:id/history", chatH.History)
	api.GET("/chats/:id/messages", chatH.ListPage)
	api.POST("/chats/:id/send", chatH.Send)
	api.GET("/chats/:id/events", rtH.ChatEvents)
	api.POST("/messages", msgH.Append)
	api.GET("/messages/:id", msgH.Get)
	api.PUT("/messages/:id", msgH.ReplaceFragments)
	api.DELETE("/messages/:id", msgH.Delete)
	api.POST("/agent", agentH.Run)
	api.GET("/runs/:id", agentH.GetRun)
	api.GET("/runs/:id/events", agentH.Events)
	api.POST("/runs/:id/cancel", agentH.Cancel)

	return &testAPI{engine: r, pub: pub, runner: runner}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

type messageView struct {
	ID                string            `json:"id"`
	ChatID            string            `json:"chat_id"`
	PreviousMessageID *string           `json:"previous_message_id"`
	AuthorKind        string            `json:"author_kind"`
	Fragments         []json.RawMessage `json:"fragments"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rec).Error.Code
}

func (a *testAPI) createChat(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/chats", map[string]any{"user_id": "u1", "title": "research"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		Chat struct {
			ID string `json:"id"`
		} `json:"chat"`
	}](t, rec).Chat.ID
}

func (a *testAPI) appendText(t *testing.T, chatID string, prev *string, author, text string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/messages", map[string]any{
		"chat_id":             chatID,
		"previous_message_id": prev,
		"author_kind":         author,
		"fragments":           []map[string]any{{"type": "text", "content": text}},
	})
}

func mustAppend(t *testing.T, a *testAPI, chatID string, prev *string, author, text string) messageView {
	t.Helper()
	rec := a.appendText(t, chatID, prev, author, text)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		Message messageView `json:"message"`
	}](t, rec).Message
}

func (a *testAPI) historyIDs(t *testing.T, chatID string) []string {
	t.Helper()
	rec := a.do(t, http.MethodGet, "/api/chats/"+chatID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	msgs := decode[struct {
		Messages []messageView `json:"messages"`
	}](t, rec).Messages
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func sseEvents(t *testing.T, body string) []realtime.Event {
	t.Helper()
	var out []realtime.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if !strings.HasPrefix(frame, "data: ") {
			continue
		}
		var ev realtime.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev), frame)
		out = append(out, ev)
	}
	return out
}

func TestChatCRUD(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	chatID := a.createChat(t)

	rec := a.do(t, http.MethodGet, "/api/chats/"+chatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPatch, "/api/chats/"+chatID, map[string]any{"title": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"title":"renamed"`)

	rec = a.do(t, http.MethodGet, "/api/chats/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = a.do(t, http.MethodPost, "/api/chats", map[string]any{"title": "no user"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/chats", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))
}

func TestAppendAndHistory(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	chatID := a.createChat(t)

	m1 := mustAppend(t, a, chatID, nil, "HUMAN", "hi")
	assert.Nil(t, m1.PreviousMessageID)

	rec := a.do(t, http.MethodPost, "/api/messages", map[string]any{
		"chat_id":             chatID,
		"previous_message_id": m1.ID,
		"author_kind":         "AGENT",
		"fragments": []map[string]any{
			{"type": "text", "content": "hello"},
			{"type": "table", "content": map[string]any{"headers": []string{"a"}, "rows": [][]string{{"1"}}}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m2 := decode[struct {
		Message messageView `json:"message"`
	}](t, rec).Message
	require.NotNil(t, m2.PreviousMessageID)
	assert.Equal(t, m1.ID, *m2.PreviousMessageID)
	assert.Len(t, m2.Fragments, 2)

	assert.Equal(t, []string{m1.ID, m2.ID}, a.historyIDs(t, chatID))

	// Stale previous id.
	rec = a.appendText(t, chatID, &m1.ID, "HUMAN", "late")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "chain_conflict", errorCode(t, rec))

	rec = a.do(t, http.MethodGet, "/api/messages/"+m2.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/messages/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppendValidation(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	chatID := a.createChat(t)

	rec := a.do(t, http.MethodPost, "/api/messages", map[string]any{
		"chat_id":     chatID,
		"author_kind": "HUMAN",
		"fragments": []map[string]any{
			{"type": "table", "content": map[string]any{"headers": []string{"A", "B"}, "rows": [][]string{{"x"}}}},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "malformed_fragment", errorCode(t, rec))

	rec = a.do(t, http.MethodPost, "/api/messages", map[string]any{
		"chat_id":     chatID,
		"author_kind": "HUMAN",
		"fragments":   []any{},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "empty_content", errorCode(t, rec))

	rec = a.appendText(t, chatID, nil, "ROBOT", "x")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", errorCode(t, rec))

	rec = a.appendText(t, "", nil, "HUMAN", "x")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, a.historyIDs(t, chatID))
}

func TestReplaceDeleteAndBrokenChain(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	chatID := a.createChat(t)
	m1 := mustAppend(t, a, chatID, nil, "HUMAN", "one")
	m2 := mustAppend(t, a, chatID, &m1.ID, "AGENT", "two")
	m3 := mustAppend(t, a, chatID, &m2.ID, "HUMAN", "three")

	rec := a.do(t, http.MethodPut, "/api/messages/"+m2.ID, map[string]any{
		"fragments": []map[string]any{{"type": "thought", "content": "rewritten"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "rewritten")

	// Tail delete rolls back.
	rec = a.do(t, http.MethodDelete, "/api/messages/"+m3.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{m1.ID, m2.ID}, a.historyIDs(t, chatID))
	mustAppend(t, a, chatID, &m2.ID, "HUMAN", "four")

	// A gap fails loudly.
	rec = a.do(t, http.MethodDelete, "/api/messages/"+m2.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/chats/"+chatID+"/history", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "broken_chain", errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), m2.ID)

	rec = a.do(t, http.MethodDelete, "/api/messages/"+m2.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPage(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	chatID := a.createChat(t)
	var ids []string
	var prev *string
	for i := 0; i < 5; i++ {
		m := mustAppend(t, a, chatID, prev, "HUMAN", "m")
		ids = append(ids, m.ID)
		prev = &m.ID
	}

	rec := a.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages?skip=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[struct {
		Messages []messageView `json:"messages"`
		Count    int           `json:"count"`
	}](t, rec)
	require.Equal(t, 2, page.Count)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{page.Messages[0].ID, page.Messages[1].ID})

	rec = a.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_limit", errorCode(t, rec))

	rec = a.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages?skip=0", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	assert.Equal(t, len(ids), all.Count)
}

func TestSendStreamsRunAndAppends(t *testing.T) {
	a := newTestAPI(t, &stubLLM{deltas: []string{"Hello", " world"}}, nil)
	chatID := a.createChat(t)

	rec := a.do(t, http.MethodPost, "/api/chats/"+chatID+"/send", map[string]any{"text": "hi there"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	runID := rec.Header().Get(headerRunID)
	humanID := rec.Header().Get(headerMessageID)
	require.NotEmpty(t, runID)
	require.NotEmpty(t, humanID)

	evs := sseEvents(t, rec.Body.String())
	require.GreaterOrEqual(t, len(evs), 3)
	assert.Equal(t, realtime.EventStart, evs[0].Type)
	done := evs[len(evs)-1]
	require.Equal(t, realtime.EventDone, done.Type)
	assert.Equal(t, runID, done.RunID)
	require.NotEmpty(t, done.MessageID)

	assert.Equal(t, []string{humanID, done.MessageID}, a.historyIDs(t, chatID))

	// Finished runs stay addressable but cannot be joined or cancelled.
	rec = a.do(t, http.MethodGet, "/api/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"succeeded"`)
	rec = a.do(t, http.MethodGet, "/api/runs/"+runID+"/events", nil)
	require.Equal(t, http.StatusGone, rec.Code)
	rec = a.do(t, http.MethodPost, "/api/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "run_finished", errorCode(t, rec))

	// Sending against the old tail conflicts before any stream starts.
	rec = a.do(t, http.MethodPost, "/api/chats/"+chatID+"/send", map[string]any{"text": "again", "previous_message_id": humanID})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendStepFailureStreamsError(t *testing.T) {
	a := newTestAPI(t, &stubLLM{streamErr: errors.New("model offline")}, nil)
	chatID := a.createChat(t)

	rec := a.do(t, http.MethodPost, "/api/chats/"+chatID+"/send", map[string]any{"text": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	evs := sseEvents(t, rec.Body.String())
	last := evs[len(evs)-1]
	assert.Equal(t, realtime.EventError, last.Type)
	assert.Equal(t, "error", last.Status)
	assert.Len(t, a.historyIDs(t, chatID), 1)
}

func TestStatelessAgentRun(t *testing.T) {
	a := newTestAPI(t, &stubLLM{deltas: []string{"answer"}}, nil)

	rec := a.do(t, http.MethodPost, "/api/agent", map[string]any{"query": "what is a chain?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	evs := sseEvents(t, rec.Body.String())
	require.NotEmpty(t, evs)
	assert.Equal(t, realtime.EventStart, evs[0].Type)
	done := evs[len(evs)-1]
	require.Equal(t, realtime.EventDone, done.Type)
	assert.Empty(t, done.MessageID)
	assert.Contains(t, rec.Body.String(), `"content":"answer"`)

	rec = a.do(t, http.MethodPost, "/api/agent", map[string]any{"query": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunLookupsUnknown(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/runs/nope"},
		{http.MethodGet, "/api/runs/nope/events"},
		{http.MethodPost, "/api/runs/nope/cancel"},
	} {
		rec := a.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
	}
}

func TestChatEventsStreamsNotifications(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	chatID := a.createChat(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/chats/"+chatID+"/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	served := make(chan struct{})
	go func() {
		defer close(served)
		a.engine.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool {
		return a.pub.Subscribers(realtime.ChatChannel(chatID)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Publishing is synchronous, so the event is queued before the cancel.
	m := mustAppend(t, a, chatID, nil, "HUMAN", "ping")
	cancel()
	<-served

	evs := sseEvents(t, rec.Body.String())
	require.Len(t, evs, 1)
	assert.Equal(t, realtime.EventMessageCreated, evs[0].Type)
	assert.Equal(t, m.ID, evs[0].MessageID)
	assert.Equal(t, 0, a.pub.Subscribers(realtime.ChatChannel(chatID)))

	rec = a.do(t, http.MethodGet, "/api/chats/missing/events", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t, &stubLLM{}, nil)
	rec := a.do(t, http.MethodGet, "/healthcheck", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	down := newTestAPI(t, &stubLLM{}, func(context.Context) error { return errors.New("store down") })
	rec = down.do(t, http.MethodGet, "/healthcheck", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store down")
}
