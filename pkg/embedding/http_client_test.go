package embedding

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

func TestHTTPClient_EmbedBatch_OrdersOutputsByInputIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i)}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "", "model")
	out, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, out[0])
	assert.Equal(t, []float32{1}, out[1])
}

func TestHTTPClient_EmbedBatch_NonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "", "model")
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestHTTPClient_WithRateLimit_BlocksUntilContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{})
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "", "model").WithRateLimit(1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	// Exhaust the single burst token, then the next call must respect the
	// limiter and fail against the tight deadline instead of calling out.
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	_, err = c.EmbedBatch(ctx, []string{"b"})
	assert.Error(t, err)
}
