package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/agent"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPWorker(t *testing.T) {
	_, err := agent.NewHTTPWorker(nil)
	assert.Error(t, err)

	_, err = agent.NewHTTPWorker(&agent.Config{})
	assert.Error(t, err)
}

func TestHTTPWorkerInvoke(t *testing.T) {
	analysisID := uuid.New()

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/agents/market/invoke", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var req agent.Request
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, analysisID, req.AnalysisID)
			assert.Equal(t, "grow", req.Problem)
			require.Len(t, req.PriorOutputs, 1)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"content":"market is large","metadata":{"tokens":12}}`))
		}))
		defer srv.Close()

		w, err := agent.NewHTTPWorker(&agent.Config{BaseURL: srv.URL, APIKey: "secret"})
		require.NoError(t, err)

		res, err := w.Invoke(context.Background(), agent.Request{
			AgentID:      "market",
			AnalysisID:   analysisID,
			Problem:      "grow",
			PriorOutputs: []agent.PriorOutput{{AgentID: "finance", Content: "cash is tight"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "market is large", res.Content)
		assert.Equal(t, float64(12), res.Metadata["tokens"])
	})

	t.Run("error status with body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"code":"upstream","message":"model unavailable"}`))
		}))
		defer srv.Close()

		w, err := agent.NewHTTPWorker(&agent.Config{BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = w.Invoke(context.Background(), agent.Request{AgentID: "market"})
		var apiErr *agent.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Equal(t, "upstream", apiErr.Code)
		assert.Contains(t, apiErr.Error(), "model unavailable")
	})

	t.Run("error status without body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		w, err := agent.NewHTTPWorker(&agent.Config{BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = w.Invoke(context.Background(), agent.Request{AgentID: "market"})
		assert.ErrorContains(t, err, "status code 500")
	})

	t.Run("reported error and empty content", func(t *testing.T) {
		for body, want := range map[string]string{
			`{"error":"refused"}`: "refused",
			`{"content":""}`:      "empty content",
		} {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))

			w, err := agent.NewHTTPWorker(&agent.Config{BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = w.Invoke(context.Background(), agent.Request{AgentID: "market"})
			assert.ErrorContains(t, err, want)
			srv.Close()
		}
	})

	t.Run("deadline from context", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		w, err := agent.NewHTTPWorker(&agent.Config{BaseURL: srv.URL})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = w.Invoke(ctx, agent.Request{AgentID: "market"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("agent id required", func(t *testing.T) {
		w, err := agent.NewHTTPWorker(&agent.Config{BaseURL: "http://localhost"})
		require.NoError(t, err)
		_, err = w.Invoke(context.Background(), agent.Request{})
		assert.Error(t, err)
	})
}

func TestEchoWorker(t *testing.T) {
	res, err := agent.EchoWorker{}.Invoke(context.Background(), agent.Request{
		AgentID:      "consolidator",
		Problem:      "grow",
		PriorOutputs: []agent.PriorOutput{{AgentID: "market", Content: "big"}},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[consolidator] grow")
	assert.Contains(t, res.Content, "- market: big")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = agent.EchoWorker{}.Invoke(ctx, agent.Request{AgentID: "market"})
	assert.ErrorIs(t, err, context.Canceled)
}
