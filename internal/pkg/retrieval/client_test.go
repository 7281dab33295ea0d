package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/viral_go_server/internal/model"
)

const instagramPayload = `[
  {"id":"1","shortCode":"abc","url":"https://www.instagram.com/p/abc/","caption":"hello",
   "timestamp":"2026-10-01T10:00:00.000Z","videoViewCount":1000,"videoPlayCount":1500,
   "likesCount":150,"commentsCount":10,"ownerUsername":"alice","videoUrl":"https://cdn/v.mp4"}
]`

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewHTTPClient(Config{
		BaseURL: server.URL + "/",
		Token:   "secret-token",
		Timeout: time.Second,
		Actors: map[string]string{
			model.PlatformInstagram: "apify~instagram-reel-scraper",
			model.PlatformTikTok:    "clockworks~tiktok-scraper",
		},
	})
}

func TestHTTPClient_Fetch(t *testing.T) {
	var gotInput map[string]interface{}
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/acts/apify~instagram-reel-scraper/run-sync-get-dataset-items", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotInput))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(instagramPayload))
	})

	result, err := client.Fetch(context.Background(), Request{
		Platform:    model.PlatformInstagram,
		Targets:     []string{"alice"},
		ResultLimit: 10,
		DateFloor:   "2026-09-01",
	})
	require.NoError(t, err)
	require.Len(t, result.Posts, 1)
	assert.Equal(t, 0, result.Dropped)

	post := result.Posts[0]
	assert.Equal(t, "1", post.ID)
	assert.Equal(t, int64(150), post.LikeCount)
	assert.Equal(t, 16.0, post.EngagementRatio)

	assert.Equal(t, []interface{}{"alice"}, gotInput["username"])
	assert.Equal(t, float64(10), gotInput["resultsLimit"])
	assert.Equal(t, "2026-09-01", gotInput["onlyPostsNewerThan"])
}

func TestHTTPClient_Fetch_TikTokInput(t *testing.T) {
	var gotInput map[string]interface{}
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/acts/clockworks~tiktok-scraper/run-sync-get-dataset-items", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotInput))
		w.Write([]byte(`[]`))
	})

	result, err := client.Fetch(context.Background(), Request{
		Platform:    model.PlatformTikTok,
		Targets:     []string{"https://www.tiktok.com/@bob", "https://www.tiktok.com/@carol"},
		ResultLimit: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Posts)

	assert.Len(t, gotInput["profiles"], 2)
	assert.Equal(t, float64(5), gotInput["resultsPerPage"])
	_, hasFloor := gotInput["oldestPostDateUnified"]
	assert.False(t, hasFloor)
}

func TestHTTPClient_Fetch_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrAuth},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ErrAuth},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrTargetNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: ErrRateLimited},
		{name: "server error", status: http.StatusBadGateway, wantErr: ErrUpstream},
		{name: "bad request", status: http.StatusBadRequest, wantErr: ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"type":"x","message":"boom"}}`))
			})

			_, err := client.Fetch(context.Background(), Request{Platform: model.PlatformInstagram, Targets: []string{"a"}, ResultLimit: 1})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "boom")
		})
	}
}

func TestHTTPClient_Fetch_Timeout(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`[]`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, Request{Platform: model.PlatformInstagram, Targets: []string{"a"}, ResultLimit: 1})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestHTTPClient_Fetch_InvalidJSON(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := client.Fetch(context.Background(), Request{Platform: model.PlatformInstagram, Targets: []string{"a"}, ResultLimit: 1})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestHTTPClient_Fetch_UnknownPlatform(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not be called")
	})

	_, err := client.Fetch(context.Background(), Request{Platform: "youtube"})
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}
