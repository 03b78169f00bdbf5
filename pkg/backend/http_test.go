package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/conversation"
	"github.com/parley-chat/parley/pkg/streaming"
	"github.com/parley-chat/parley/pkg/styles"
)

func TestNewChatRequest(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewMessage(conversation.RoleUser, "hi"),
		conversation.NewMessage(conversation.RoleAssistant, "hello"),
	}

	style := styles.Style{ID: "brief", Prompt: "Be brief."}
	req, err := NewChatRequest(history, "how are you", RequestConfig{
		Model:         "llama3",
		Style:         style,
		ShowReasoning: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "llama3", req.Model)
	// the message goes out with the style prefix applied, exactly as
	// Style.Apply renders it
	assert.Equal(t, style.Apply("how are you"), req.Message)
	assert.Equal(t, "Be brief.\n\nhow are you", req.Message)
	assert.True(t, req.ShowReasoning)
	require.Len(t, req.History, 2)
	assert.Equal(t, HistoryEntry{Role: "user", Content: "hi"}, req.History[0])
	assert.Equal(t, HistoryEntry{Role: "assistant", Content: "hello"}, req.History[1])
}

func TestNewChatRequestRejectsBlankInput(t *testing.T) {
	_, err := NewChatRequest(nil, "   \n\t", RequestConfig{Model: "llama3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyInput))
}

func TestNewChatRequestSkipsStreamingPlaceholder(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewMessage(conversation.RoleUser, "hi"),
		conversation.NewPlaceholder(),
	}

	req, err := NewChatRequest(history, "next", RequestConfig{Model: "llama3"})
	require.NoError(t, err)
	require.Len(t, req.History, 1)
}

func TestHTTPBackendJSONResponse(t *testing.T) {
	var received ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse{
			Response:  "hi there",
			Reasoning: "because",
			Sources:   []conversation.Source{{Title: "docs", URL: "https://example.com"}},
			Model:     "llama3",
		})
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL)
	req, err := NewChatRequest(nil, "hello", RequestConfig{Model: "llama3"})
	require.NoError(t, err)

	var updates []string
	completion, err := b.Complete(context.Background(), req, func(delta, completion string) error {
		updates = append(updates, completion)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "hi there", completion.Text)
	assert.Equal(t, "because", completion.Reasoning)
	require.Len(t, completion.Sources, 1)
	assert.Equal(t, []string{"hi there"}, updates)
	assert.Equal(t, "hello", received.Message)
}

func TestHTTPBackendStreamedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"He", "llo", " world"} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL)
	req, err := NewChatRequest(nil, "hello", RequestConfig{Model: "llama3"})
	require.NoError(t, err)

	var last string
	completion, err := b.Complete(context.Background(), req, func(delta, completion string) error {
		last = completion
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", completion.Text)
	assert.Equal(t, "Hello world", last)
}

func TestHTTPBackendErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail": "overloaded"}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL)
	req, err := NewChatRequest(nil, "hello", RequestConfig{Model: "llama3"})
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), req, func(delta, completion string) error {
		t.Fatal("no update expected on failure")
		return nil
	})
	require.Error(t, err)

	var failed *RequestFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, http.StatusInternalServerError, failed.StatusCode)
	assert.Equal(t, "overloaded", failed.Error())
}

func TestHTTPBackendErrorWithoutParseableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL)
	req, err := NewChatRequest(nil, "hello", RequestConfig{Model: "llama3"})
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), req, func(delta, completion string) error { return nil })
	var failed *RequestFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "chat request failed with status 502", failed.Error())
}

func TestSimulatedBackendCyclesReplies(t *testing.T) {
	b := NewSimulatedBackend([]string{"one", "two"},
		streaming.WithTickInterval(0, 0),
		streaming.WithRunesPerTick(10, 10),
	)
	req, err := NewChatRequest(nil, "hello", RequestConfig{Model: "sim", ShowReasoning: true})
	require.NoError(t, err)

	first, err := b.Complete(context.Background(), req, func(delta, completion string) error { return nil })
	require.NoError(t, err)
	second, err := b.Complete(context.Background(), req, func(delta, completion string) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, "one", first.Text)
	assert.Equal(t, "two", second.Text)
	assert.NotEmpty(t, first.Reasoning)
}

func TestModelCatalogFetchesAndCaches(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string][]string{"models": {"llama3", "qwen"}})
	}))
	defer server.Close()

	catalog := NewModelCatalog(server.URL)
	assert.Equal(t, []string{"llama3", "qwen"}, catalog.Models(context.Background()))
	assert.Equal(t, []string{"llama3", "qwen"}, catalog.Models(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestModelCatalogFallsBackToDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	catalog := NewModelCatalog(server.URL, WithDefaultModel("llama3"))
	assert.Equal(t, []string{"llama3"}, catalog.Models(context.Background()))
}
