package serp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchLinkedInProfilesWithMetaMapsOrganicResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[{"title":"Jane Doe - LinkedIn","link":"https://linkedin.com/in/janedoe","snippet":"Software Engineer"}]}`))
	}))
	defer srv.Close()

	c := NewSerperClient("test-key")
	c.baseURL = srv.URL

	result, err := c.SearchLinkedInProfilesWithMeta(context.Background(), "site:linkedin.com/in jane doe", 20)
	require.NoError(t, err)
	assert.Equal(t, "serper", result.ProviderUsed)
	assert.False(t, result.UsedFallback)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "https://linkedin.com/in/janedoe", result.Results[0].ProfileURL)
}

func TestSearchLinkedInProfilesWithMetaFailsWhenUnconfigured(t *testing.T) {
	c := NewSerperClient("")
	_, err := c.SearchLinkedInProfilesWithMeta(context.Background(), "query", 20)
	require.Error(t, err)
}

func TestSearchLinkedInProfilesWithMetaReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewSerperClient("test-key")
	c.baseURL = srv.URL

	_, err := c.SearchLinkedInProfilesWithMeta(context.Background(), "query", 20)
	require.Error(t, err)
}
