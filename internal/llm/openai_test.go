package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundline/internal/config"
	"groundline/internal/doc"
)

func testAIConfig(baseURL, model string) config.AIConfig {
	return config.AIConfig{
		BaseURL:        baseURL,
		APIKey:         "test",
		Model:          model,
		EmbeddingModel: "embed-model",
		Temperature:    0.0,
		Timeout:        5 * time.Second,
	}
}

// chatServer mimics a minimal chat-completions endpoint and captures
// the request payload for assertions.
func chatServer(t *testing.T, response string, captured *map[string]any) *httptest.Server {
	t.Helper()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode payload: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	})
	return httptest.NewServer(h)
}

func TestCompleteReturnsContent(t *testing.T) {
	var payload map[string]any
	srv := chatServer(t, `{"choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`, &payload)
	defer srv.Close()

	c := NewClient(testAIConfig(srv.URL, "gpt-4o"))
	got, err := c.Complete(t.Context(), Request{System: "be brief", User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	assert.Equal(t, "gpt-4o", payload["model"])
	msgs, ok := payload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be brief", first["content"])
	second := msgs[1].(map[string]any)
	assert.Equal(t, "user", second["role"])

	// Plain requests carry a temperature and no response_format.
	assert.Contains(t, payload, "temperature")
	assert.NotContains(t, payload, "response_format")
}

func TestCompleteJSONModeRequestShape(t *testing.T) {
	var payload map[string]any
	srv := chatServer(t, `{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`, &payload)
	defer srv.Close()

	c := NewClient(testAIConfig(srv.URL, "gpt-4o"))
	_, err := c.Complete(t.Context(), Request{System: "s", User: "u", JSONMode: true})
	require.NoError(t, err)

	rf, ok := payload["response_format"].(map[string]any)
	require.True(t, ok, "response_format must be set in JSON mode")
	assert.Equal(t, "json_object", rf["type"])
}

func TestCompleteModelOverrideAndTemperatureRule(t *testing.T) {
	var payload map[string]any
	srv := chatServer(t, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`, &payload)
	defer srv.Close()

	c := NewClient(testAIConfig(srv.URL, "gpt-4o"))
	_, err := c.Complete(t.Context(), Request{Model: "o1-mini", System: "s", User: "u"})
	require.NoError(t, err)

	// The per-call override wins, and reasoning models get no
	// temperature parameter.
	assert.Equal(t, "o1-mini", payload["model"])
	assert.NotContains(t, payload, "temperature")
}

func TestCompleteNoChoices(t *testing.T) {
	srv := chatServer(t, `{"choices":[]}`, nil)
	defer srv.Close()

	c := NewClient(testAIConfig(srv.URL, "gpt-4o"))
	_, err := c.Complete(t.Context(), Request{System: "s", User: "u"})
	assert.ErrorIs(t, err, doc.ErrAI)
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testAIConfig(srv.URL, "gpt-4o"))
	_, err := c.Complete(t.Context(), Request{System: "s", User: "u"})
	assert.ErrorIs(t, err, doc.ErrAI)
}

// embedServer mimics a minimal embeddings endpoint.
func embedServer(t *testing.T, response string, captured *map[string]any) *httptest.Server {
	t.Helper()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode payload: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	})
	return httptest.NewServer(h)
}

func TestEmbedReturnsVectorsInOrder(t *testing.T) {
	var payload map[string]any
	srv := embedServer(t, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]},{"object":"embedding","index":1,"embedding":[0.3,0.4]}],"model":"embed-model"}`, &payload)
	defer srv.Close()

	c := NewClient(testAIConfig(srv.URL, "gpt-4o"))
	vecs, err := c.Embed(t.Context(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])

	assert.Equal(t, "embed-model", payload["model"])
	inputs, ok := payload["input"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"first", "second"}, inputs)
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := embedServer(t, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1]}],"model":"embed-model"}`, nil)
	defer srv.Close()

	c := NewClient(testAIConfig(srv.URL, "gpt-4o"))
	_, err := c.Embed(t.Context(), []string{"first", "second"})
	assert.ErrorIs(t, err, doc.ErrAI)
}
