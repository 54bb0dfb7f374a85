package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePostsSessionRequest(t *testing.T) {
	var captured sessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Enqueue(context.Background(), "tenant-1", "cand-1", 15)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", captured.TenantID)
	assert.Equal(t, "cand-1", captured.CandidateID)
	assert.Equal(t, 15, captured.Priority)
}

func TestEnqueueReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Enqueue(context.Background(), "tenant-1", "cand-1", 15)
	require.Error(t, err)
}

func TestEnqueueFailsWhenUnconfigured(t *testing.T) {
	c := NewClient("")
	err := c.Enqueue(context.Background(), "tenant-1", "cand-1", 15)
	require.Error(t, err)
}
