package feedapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Path  string
	Query map[string]string
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := make(map[string]string)
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		mu.Lock()
		requests = append(requests, recordedRequest{Path: r.URL.Path, Query: query})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: baseURL + "/", Timeout: 5 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestFetchArticles(t *testing.T) {
	srv, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"a1","title":"Markets rally","url":"https://news.example/a1","published_at":"2024-05-01T10:00:00Z"},
			{"id":"a2","title":"New listing","url":"https://news.example/a2","published_at":"2024-05-02T10:00:00Z"}
		]`))
	})
	client := newTestClient(t, srv.URL)

	articles, err := client.FetchArticles(context.Background(), []string{"a1", "a2"})
	require.NoError(t, err)

	require.Len(t, articles, 2)
	assert.Equal(t, "Markets rally", articles[0].Title)
	assert.Equal(t, time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), articles[1].PublishedAt.UTC())
	assert.Equal(t, []recordedRequest{{Path: "/api/v1/articles", Query: map[string]string{"ids": "a1,a2"}}}, requests())
}

func TestFetchTokens(t *testing.T) {
	srv, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"t1","name":"Wrapped Ether","symbol":"WETH","decimals":18,"chain":"ethereum"}]`))
	})
	client := newTestClient(t, srv.URL)

	byID, err := client.FetchTokensByID(context.Background(), []string{"t1"})
	require.NoError(t, err)
	byName, err := client.FetchTokensByName(context.Background(), []string{"Wrapped Ether", "Dai"})
	require.NoError(t, err)

	assert.Equal(t, byID, byName)
	assert.Equal(t, 18, byID[0].Decimals)
	assert.Equal(t, []recordedRequest{
		{Path: "/api/v1/tokens", Query: map[string]string{"ids": "t1"}},
		{Path: "/api/v1/tokens", Query: map[string]string{"names": "Wrapped Ether,Dai"}},
	}, requests())
}

func TestFetchEmptyKeysSkipsRequest(t *testing.T) {
	srv, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(t, srv.URL)

	articles, err := client.FetchArticles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, articles)
	assert.Empty(t, requests())
}

func TestFetchHTTPError(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	client := newTestClient(t, srv.URL)

	_, err := client.FetchTokensByID(context.Background(), []string{"t1"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Body)
}

func TestFetchMalformedResponse(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})
	client := newTestClient(t, srv.URL)

	_, err := client.FetchArticles(context.Background(), []string{"a1"})
	assert.ErrorContains(t, err, "failed to decode response")
}

func TestFetchCanceledContext(t *testing.T) {
	srv, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchArticles(ctx, []string{"a1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, requests())
}

func TestRateLimiterWaitsForToken(t *testing.T) {
	srv, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	client, err := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1}, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.FetchArticles(context.Background(), []string{"a1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.FetchArticles(ctx, []string{"a2"})
	assert.Error(t, err)
	assert.Len(t, requests(), 1)
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient(Config{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "ftp://example.org"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab…", truncate("abcdef", 2))
	// "é" is two bytes, cutting after the first would split it.
	out := truncate("aéb", 2)
	assert.Equal(t, "a…", out)
	assert.True(t, utf8.ValidString(out))
}
