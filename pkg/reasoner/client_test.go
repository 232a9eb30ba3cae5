package reasoner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/models"
)

func TestProcessDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/process", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["query"])
		assert.Equal(t, "sess-1", body["session_id"])

		json.NewEncoder(w).Encode(Response{
			Answer:    "hi there",
			Strategy:  "agent_loop",
			LatencyMS: 42,
		})
	}))
	defer server.Close()

	client := New(config.LocalReasonerConfig{Enabled: true, URL: server.URL, TimeoutMS: 5000})
	require.True(t, client.Enabled())

	resp, err := client.Process(context.Background(), models.Query{
		Text:      "hello",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Answer)
	assert.Equal(t, "agent_loop", resp.Strategy)
	assert.Equal(t, 42.0, resp.LatencyMS)
}

func TestProcessMapsServerErrorToBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(config.LocalReasonerConfig{Enabled: true, URL: server.URL, TimeoutMS: 5000})

	_, err := client.Process(context.Background(), models.Query{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, models.KindBackendUnavailable, models.KindOf(err))
}

func TestStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int64{"queries": 17, "errors": 1})
	}))
	defer server.Close()

	client := New(config.LocalReasonerConfig{Enabled: true, URL: server.URL, TimeoutMS: 5000})

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(17), stats["queries"])
}

func TestDisabledStub(t *testing.T) {
	client := New(config.LocalReasonerConfig{Enabled: false})
	assert.False(t, client.Enabled())

	_, err := client.Process(context.Background(), models.Query{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, models.KindBackendUnavailable, models.KindOf(err))
}
