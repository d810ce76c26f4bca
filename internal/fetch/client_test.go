package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/italolelis/manga_downloader/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeHeaders(t *testing.T) {
	h := fetch.MergeHeaders(
		map[string]string{"Referer": "https://example.com/a"},
		map[string]string{"referer": "https://example.com/b", "Accept": "image/*"},
	)

	assert.Equal(t, "https://example.com/b", h.Get("Referer"))
	assert.Equal(t, "image/*", h.Get("Accept"))
	assert.Equal(t, fetch.DefaultHeaders["User-Agent"], h.Get("User-Agent"))
	assert.Equal(t, fetch.DefaultHeaders["Accept-Language"], h.Get("Accept-Language"))
}

func TestFetch_SendsMergedHeaders(t *testing.T) {
	var got http.Header

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client := fetch.NewClient(fetch.Options{})

	page, err := client.Fetch(context.Background(), ts.URL, map[string]string{"Referer": "https://ref"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "ok", string(page.Body))
	assert.Equal(t, "https://ref", got.Get("Referer"))
	assert.Equal(t, fetch.DefaultHeaders["User-Agent"], got.Get("User-Agent"))
}

func TestFetch_PropagatesCookies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/challenge":
			http.SetCookie(w, &http.Cookie{Name: "token", Value: "abc", Path: "/"})
			w.Write([]byte("challenge"))
		case "/protected":
			c, err := r.Cookie("token")
			if err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte("secret"))
		}
	}))
	defer ts.Close()

	client := fetch.NewClient(fetch.Options{})
	ctx := context.Background()

	first, err := client.Fetch(ctx, ts.URL+"/challenge", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.Cookies)

	second, err := client.Fetch(ctx, ts.URL+"/protected", nil, first.Cookies)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(second.Body))

	_, err = client.Fetch(ctx, ts.URL+"/protected", nil, nil)
	var statusErr *fetch.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

// hostRouter sends requests for each virtual host to its test server.
type hostRouter map[string]*httptest.Server

func (hr hostRouter) RoundTrip(r *http.Request) (*http.Response, error) {
	ts, ok := hr[r.URL.Host]
	if !ok {
		return nil, errors.New("unknown host " + r.URL.Host)
	}

	r = r.Clone(r.Context())
	r.URL.Host = strings.TrimPrefix(ts.URL, "http://")

	return http.DefaultTransport.RoundTrip(r)
}

func TestFetch_CookiesStayWithTheirHost(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("session"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "secret"})
		}
		w.Write([]byte("page"))
	}))
	defer site.Close()

	var cdnCookies []string

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnCookies = append(cdnCookies, r.Header.Get("Cookie"))
		w.Write([]byte("image"))
	}))
	defer cdn.Close()

	client := fetch.NewClient(fetch.Options{Transport: hostRouter{"site.test": site, "cdn.test": cdn}})
	ctx := context.Background()

	page, err := client.Fetch(ctx, "http://site.test/manga/x/c001/1.html", nil, nil)
	require.NoError(t, err)
	require.Len(t, page.Cookies, 1)
	assert.Equal(t, "site.test", page.Cookies[0].Domain)

	again, err := client.Fetch(ctx, "http://site.test/manga/x/c001/chapterfun.ashx", nil, page.Cookies)
	require.NoError(t, err)
	require.Len(t, again.Cookies, 1)
	assert.Equal(t, "secret", again.Cookies[0].Value, "same host keeps the session")

	_, err = client.Fetch(ctx, "http://cdn.test/store/001.jpg", nil, page.Cookies)
	require.NoError(t, err)

	assert.Equal(t, []string{""}, cdnCookies, "another host never sees the session")
}

func TestOpen_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
		{"not modified", http.StatusNotModified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			_, err := fetch.NewClient(fetch.Options{}).Open(context.Background(), ts.URL, nil, nil)

			var statusErr *fetch.HTTPStatusError
			require.True(t, errors.As(err, &statusErr), "expected HTTPStatusError, got %T", err)
			assert.Equal(t, tt.status, statusErr.StatusCode)
		})
	}
}

func TestOpen_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.URL
	ts.Close()

	_, err := fetch.NewClient(fetch.Options{}).Open(context.Background(), addr, nil, nil)

	var transportErr *fetch.TransportError
	require.True(t, errors.As(err, &transportErr), "expected TransportError, got %T", err)
	assert.Equal(t, addr, transportErr.URL)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		"fetching http://x/1.jpg: unexpected HTTP status 404",
		(&fetch.HTTPStatusError{URL: "http://x/1.jpg", StatusCode: 404}).Error(),
	)
	assert.Equal(t,
		"transport error fetching http://x/1.jpg: reset",
		(&fetch.TransportError{URL: "http://x/1.jpg", Err: errors.New("reset")}).Error(),
	)
}
