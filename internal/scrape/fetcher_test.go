package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pders01/fitlist/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectKind     Kind
		expectError    bool
		expectStatus   int
		expectRetry    time.Duration
	}{
		{
			name: "successful fetch",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("User-Agent") != "fitlist-test/1.0" {
					t.Errorf("expected User-Agent fitlist-test/1.0, got %s", r.Header.Get("User-Agent"))
				}
				if r.Header.Get("Accept-Language") == "" {
					t.Errorf("expected Accept-Language header")
				}
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Write([]byte("<html></html>"))
			},
		},
		{
			name:           "not found",
			serverResponse: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			expectError:    true,
			expectKind:     KindNotFound,
			expectStatus:   http.StatusNotFound,
		},
		{
			name:           "gone",
			serverResponse: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusGone) },
			expectError:    true,
			expectKind:     KindNotFound,
			expectStatus:   http.StatusGone,
		},
		{
			name: "rate limited with seconds",
			serverResponse: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "120")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			expectError:  true,
			expectKind:   KindRateLimited,
			expectStatus: http.StatusTooManyRequests,
			expectRetry:  2 * time.Minute,
		},
		{
			name:           "unavailable without header uses default",
			serverResponse: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			expectError:    true,
			expectKind:     KindRateLimited,
			expectStatus:   http.StatusServiceUnavailable,
			expectRetry:    time.Second,
		},
		{
			name:           "server error",
			serverResponse: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			expectError:    true,
			expectKind:     KindNetwork,
			expectStatus:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			fetcher := NewFetcher(config.TestConfig())
			page, err := fetcher.Fetch(context.Background(), server.URL+"/us/workout/x/1")

			if !tt.expectError {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, page.Status)
				assert.Equal(t, "<html></html>", string(page.Body))
				assert.Equal(t, server.URL+"/us/workout/x/1", page.FinalURL)
				assert.Contains(t, page.ContentType, "text/html")
				assert.False(t, page.FetchedAt.IsZero())
				return
			}

			require.Error(t, err)
			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.expectKind, se.Kind)
			assert.Equal(t, tt.expectStatus, se.Status)
			if tt.expectKind == KindRateLimited {
				retry, ok := RetryAfter(err)
				assert.True(t, ok)
				assert.Equal(t, tt.expectRetry, retry)
			}
		})
	}
}

func TestFetcher_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gb/workout/x/1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/us/workout/x-with-kim/1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/us/workout/x-with-kim/1", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	page, err := NewFetcher(config.TestConfig()).Fetch(context.Background(), server.URL+"/gb/workout/x/1")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/gb/workout/x/1", page.RequestedURL)
	assert.Equal(t, server.URL+"/us/workout/x-with-kim/1", page.FinalURL)
}

func TestFetcher_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewFetcher(config.TestConfig()).Fetch(context.Background(), url)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, kind)
}

func TestFetcher_GetRetryAfter(t *testing.T) {
	f := NewFetcher(config.TestConfig())

	tests := []struct {
		name   string
		header string
		want   func(time.Duration) bool
	}{
		{"seconds", "30", func(d time.Duration) bool { return d == 30*time.Second }},
		{"missing", "", func(d time.Duration) bool { return d == time.Second }},
		{"garbage", "soon", func(d time.Duration) bool { return d == time.Second }},
		{"past date", "Wed, 21 Oct 2015 07:28:00 GMT", func(d time.Duration) bool { return d == 0 }},
		{
			"future date",
			time.Now().Add(time.Hour).UTC().Format(http.TimeFormat),
			func(d time.Duration) bool { return d > 58*time.Minute && d <= time.Hour },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			got := f.GetRetryAfter(resp)
			assert.True(t, tt.want(got), "got %s", got)
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindRateLimited, URL: "https://x/1", Status: 429}
	assert.Equal(t, "scrape https://x/1: rate_limited (HTTP 429)", err.Error())
	assert.False(t, IsNotFound(err))
	assert.True(t, IsNotFound(&Error{Kind: KindNotFound}))
}
