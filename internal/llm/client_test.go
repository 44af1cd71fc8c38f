package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL + "/v1",
		Model:          "gpt-3.5-turbo",
		EmbeddingModel: "text-embedding-3-small",
		MaxTokens:      512,
		Timeout:        5 * time.Second,
	}, nil)
}

func TestCompleteSendsSystemAndUser(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"summary\":\"ok\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	})

	resp, err := c.Complete(context.Background(), CompletionRequest{SystemPrompt: "sys", UserPrompt: "user", Attempts: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-3.5-turbo", body["model"])
	assert.EqualValues(t, 512, body["max_tokens"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "user", msgs[1].(map[string]interface{})["content"])
}

func TestCompleteSingleAttemptFailsFast(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	})

	_, err := c.Complete(context.Background(), CompletionRequest{SystemPrompt: "s", UserPrompt: "u", Attempts: 1})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGenerateBatchEmbeddingsKeepsOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	})

	vecs, err := c.GenerateBatchEmbeddings(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}
