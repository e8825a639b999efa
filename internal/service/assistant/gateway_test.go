package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/assistant-relay/backend/internal/config"
)

// fakeRuntime 模拟 Assistants API 的 thread / run 端点。
type fakeRuntime struct {
	mu sync.Mutex

	threadID      string
	runStatuses   []string
	messages      []map[string]any
	postedPrompt  string
	postedRole    string
	assistantID   string
	authorization string
	betaHeader    string
	runPolls      int
}

func (f *fakeRuntime) handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/threads", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authorization = r.Header.Get("Authorization")
		f.betaHeader = r.Header.Get("OpenAI-Beta")
		id := f.threadID
		f.mu.Unlock()

		if id == "" {
			writeJSON(w, map[string]any{"object": "thread"})
			return
		}
		writeJSON(w, map[string]any{"id": id, "object": "thread", "created_at": 1, "metadata": map[string]any{}})
	})

	r.Post("/threads/{threadID}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.postedRole = body.Role
		f.postedPrompt = body.Content
		f.mu.Unlock()

		writeJSON(w, map[string]any{
			"id":        "msg_user",
			"object":    "thread.message",
			"thread_id": chi.URLParam(r, "threadID"),
			"role":      "user",
			"content":   []any{},
		})
	})

	r.Post("/threads/{threadID}/runs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AssistantID string `json:"assistant_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.assistantID = body.AssistantID
		status := f.runStatuses[0]
		f.mu.Unlock()

		writeJSON(w, runPayload(chi.URLParam(r, "threadID"), status))
	})

	r.Get("/threads/{threadID}/runs/{runID}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.runPolls++
		idx := f.runPolls
		if idx >= len(f.runStatuses) {
			idx = len(f.runStatuses) - 1
		}
		status := f.runStatuses[idx]
		f.mu.Unlock()

		writeJSON(w, runPayload(chi.URLParam(r, "threadID"), status))
	})

	r.Get("/threads/{threadID}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data := f.messages
		f.mu.Unlock()

		writeJSON(w, map[string]any{
			"object":   "list",
			"data":     data,
			"has_more": false,
		})
	})

	return r
}

type recorded struct {
	postedPrompt  string
	postedRole    string
	assistantID   string
	authorization string
	betaHeader    string
	runPolls      int
}

// snapshot 在锁内复制记录的请求内容。
func (f *fakeRuntime) snapshot() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recorded{
		postedPrompt:  f.postedPrompt,
		postedRole:    f.postedRole,
		assistantID:   f.assistantID,
		authorization: f.authorization,
		betaHeader:    f.betaHeader,
		runPolls:      f.runPolls,
	}
}

func runPayload(threadID, status string) map[string]any {
	return map[string]any{
		"id":           "run_1",
		"object":       "thread.run",
		"thread_id":    threadID,
		"assistant_id": "asst_test",
		"status":       status,
	}
}

func textMessage(id, role, text string) map[string]any {
	return map[string]any{
		"id":     id,
		"object": "thread.message",
		"role":   role,
		"content": []any{
			map[string]any{
				"type": "text",
				"text": map[string]any{"value": text, "annotations": []any{}},
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestGateway(t *testing.T, runtime *fakeRuntime, timeout time.Duration) *Gateway {
	t.Helper()

	srv := httptest.NewServer(runtime.handler())
	t.Cleanup(srv.Close)

	gw, err := NewGateway(config.AssistantConfig{
		APIKey:       "sk-test",
		AssistantID:  "asst_test",
		BaseURL:      srv.URL + "/",
		PollInterval: time.Millisecond,
		PollTimeout:  timeout,
	})
	require.NoError(t, err)
	return gw
}

func TestExchangeCompletesOnFirstPoll(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"queued", "completed"},
		messages: []map[string]any{
			textMessage("msg_2", "assistant", "Hello【3†source】world†"),
			textMessage("msg_1", "user", "hi there"),
		},
	}
	gw := newTestGateway(t, runtime, time.Second)

	var observed []string
	reply, err := gw.Exchange(context.Background(), "hi there", func(status string) {
		observed = append(observed, status)
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", reply.Text)
	assert.Equal(t, "Hello【3†source】world†", reply.Raw)
	assert.Equal(t, "thread_1", reply.ThreadID)
	assert.Equal(t, "run_1", reply.RunID)
	assert.Equal(t, 1, reply.Polls)
	assert.Equal(t, []string{"queued", "completed"}, observed)

	seen := runtime.snapshot()
	assert.Equal(t, "hi there", seen.postedPrompt)
	assert.Equal(t, "user", seen.postedRole)
	assert.Equal(t, "asst_test", seen.assistantID)
	assert.Equal(t, "Bearer sk-test", seen.authorization)
	assert.Equal(t, "assistants=v2", seen.betaHeader)
}

func TestExchangeKeepsPollingNonTerminalStatuses(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"queued", "in_progress", "requires_action", "in_progress", "completed"},
		messages:    []map[string]any{textMessage("msg_2", "assistant", "done")},
	}
	gw := newTestGateway(t, runtime, time.Second)

	reply, err := gw.Exchange(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Text)
	assert.Equal(t, 4, reply.Polls)
}

func TestExchangeCompletedImmediatelySkipsPolling(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"completed"},
		messages:    []map[string]any{textMessage("msg_2", "assistant", "instant")},
	}
	gw := newTestGateway(t, runtime, time.Second)

	reply, err := gw.Exchange(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, reply.Polls)
	assert.Equal(t, 0, runtime.snapshot().runPolls)
}

func TestExchangeMissingThreadID(t *testing.T) {
	runtime := &fakeRuntime{runStatuses: []string{"completed"}}
	gw := newTestGateway(t, runtime, time.Second)

	_, err := gw.Exchange(context.Background(), "question", nil)
	assert.ErrorIs(t, err, ErrThreadUnavailable)
	assert.Empty(t, runtime.snapshot().postedPrompt)
}

func TestExchangeRunFailed(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"queued", "failed"},
	}
	gw := newTestGateway(t, runtime, time.Second)

	_, err := gw.Exchange(context.Background(), "question", nil)
	assert.ErrorIs(t, err, ErrRunFailed)
}

func TestExchangeTimesOut(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"in_progress"},
	}
	gw := newTestGateway(t, runtime, 30*time.Millisecond)

	_, err := gw.Exchange(context.Background(), "question", nil)
	assert.ErrorIs(t, err, ErrRunTimeout)
}

func TestExchangeHonoursContextCancellation(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"in_progress"},
	}
	gw := newTestGateway(t, runtime, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := gw.Exchange(ctx, "question", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunTimeout)
}

func TestExchangeWithoutAssistantMessageUsesPlaceholder(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"completed"},
		messages:    []map[string]any{textMessage("msg_1", "user", "question")},
	}
	gw := newTestGateway(t, runtime, time.Second)

	reply, err := gw.Exchange(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyReplyPlaceholder, reply.Text)
	assert.Equal(t, EmptyReplyPlaceholder, reply.Raw)
}

func TestExchangePicksMostRecentAssistantMessage(t *testing.T) {
	runtime := &fakeRuntime{
		threadID:    "thread_1",
		runStatuses: []string{"completed"},
		messages: []map[string]any{
			textMessage("msg_3", "assistant", "newest"),
			textMessage("msg_2", "assistant", "older"),
		},
	}
	gw := newTestGateway(t, runtime, time.Second)

	reply, err := gw.Exchange(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, "newest", reply.Text)
}

func TestExchangeRemoteErrorIsNotRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"unavailable","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)

	gw, err := NewGateway(config.AssistantConfig{
		APIKey:       "sk-test",
		AssistantID:  "asst_test",
		BaseURL:      srv.URL + "/",
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	})
	require.NoError(t, err)

	_, err = gw.Exchange(context.Background(), "question", nil)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestNewGatewayRequiresCredentials(t *testing.T) {
	_, err := NewGateway(config.AssistantConfig{PollInterval: time.Second, PollTimeout: time.Minute})
	assert.Error(t, err)
}
