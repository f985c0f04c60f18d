package prompts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPromptServer(t *testing.T, hits *atomic.Int64, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Prompt{Name: "partner-onboarding", Content: content, Version: 3})
	}))
}

func TestHTTPResolverFetchesAndCaches(t *testing.T) {
	var hits atomic.Int64
	srv := newPromptServer(t, &hits, "remote prompt text")
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, "pk", "sk", time.Minute)

	p, err := r.GetPrompt(context.Background(), SlotOnboarding)
	require.NoError(t, err)
	assert.Equal(t, "remote prompt text", p.Content)
	assert.Equal(t, 3, p.Version)

	// Second call within the TTL is served from cache.
	_, err = r.GetPrompt(context.Background(), SlotOnboarding)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestHTTPResolverCacheExpires(t *testing.T) {
	var hits atomic.Int64
	srv := newPromptServer(t, &hits, "remote prompt text")
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, "pk", "sk", 20*time.Millisecond)

	_, err := r.GetPrompt(context.Background(), SlotOnboarding)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = r.GetPrompt(context.Background(), SlotOnboarding)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestHTTPResolverErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, "pk", "sk", time.Minute)

	_, err := r.GetPrompt(context.Background(), "missing-slot")
	assert.Error(t, err)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, "pk", "sk", time.Minute)

	p := Resolve(context.Background(), r, SlotOnboarding)
	assert.Equal(t, Default(SlotOnboarding), p.Content)
	assert.Equal(t, 0, p.Version)
	assert.NotEmpty(t, p.Content, "fallback must never be empty for known slots")
}

func TestResolveWithNilResolver(t *testing.T) {
	p := Resolve(context.Background(), nil, SlotCoaching)
	assert.NotEmpty(t, p.Content)
}

func TestDefaultsCoverAllSlots(t *testing.T) {
	for _, slot := range []string{SlotOnboarding, SlotServicing, SlotCoaching, SlotPhotoAnalysis, SlotExtraction} {
		assert.NotEmpty(t, Default(slot), "missing embedded default for %s", slot)
	}
}
