package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"

	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// DefaultHeaders is the baseline header set sent with every request. Caller
// headers override these key by key. Accept-Encoding is left to the transport
// so compressed responses are decoded transparently.
var DefaultHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

const defaultTimeout = 30 * time.Second

// Options configures the fetch client.
type Options struct {
	// Timeout bounds a whole request, body included. Default: 30s
	Timeout time.Duration

	// Transport overrides the base round tripper. Default: http.DefaultTransport
	Transport http.RoundTripper

	Telemetry *telemetry.Telemetry
}

// Stream is an open response whose body the caller must close.
type Stream struct {
	Body          io.ReadCloser
	ContentLength int64
	Cookies       []*http.Cookie
}

// Page is a fully read response.
type Page struct {
	Body    []byte
	Cookies []*http.Cookie
}

// Client performs single GET requests. It holds no cookie state: cookies go in
// and come out of every call, so concurrent callers never share a jar.
// Returned cookies are bound to the responding host.
type Client struct {
	client    *http.Client
	telemetry *telemetry.Telemetry
}

// NewClient creates a new fetch client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		client: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   opts.Timeout,
		},
		telemetry: opts.Telemetry,
	}
}

// MergeHeaders returns DefaultHeaders overlaid with each of the given sets in order.
func MergeHeaders(sets ...map[string]string) http.Header {
	h := make(http.Header, len(DefaultHeaders))
	for k, v := range DefaultHeaders {
		h.Set(k, v)
	}

	for _, set := range sets {
		for k, v := range set {
			h.Set(k, v)
		}
	}

	return h
}

// Open performs a GET and returns the open response body. Non-2xx responses
// are closed and reported as *HTTPStatusError; no retries happen here.
func (c *Client) Open(ctx context.Context, rawURL string, headers map[string]string, cookies []*http.Cookie) (*Stream, error) {
	logger := logctx.LoggerFromContext(ctx)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if len(cookies) > 0 {
		jar.SetCookies(u, sitewide(cookies))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = MergeHeaders(headers)

	for _, cookie := range jar.Cookies(u) {
		req.AddCookie(cookie)
	}

	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		c.telemetry.RecordFetch("transport", time.Since(start))

		return nil, &TransportError{URL: rawURL, Err: err}
	}

	c.telemetry.RecordFetch(statusClass(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()

		logger.Debug("unexpected status", "url", rawURL, "status", resp.StatusCode)

		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	jar.SetCookies(u, resp.Cookies())

	return &Stream{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		Cookies:       scoped(jar.Cookies(u), u.Hostname()),
	}, nil
}

// Fetch performs a GET and reads the whole body.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers map[string]string, cookies []*http.Cookie) (*Page, error) {
	stream, err := c.Open(ctx, rawURL, headers, cookies)
	if err != nil {
		return nil, err
	}
	defer stream.Body.Close()

	body, err := io.ReadAll(stream.Body)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}

	return &Page{Body: body, Cookies: stream.Cookies}, nil
}

// sitewide copies cookies, scoping path-less ones to the whole origin. Cookies
// returned by a jar carry no path, and replaying them against a sibling URL
// must not narrow them to that URL's directory.
func sitewide(cookies []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))

	for _, c := range cookies {
		if c == nil {
			continue
		}

		cp := *c
		if cp.Path == "" {
			cp.Path = "/"
		}

		out = append(out, &cp)
	}

	return out
}

// scoped pins jar cookies to the host that issued them. Replaying them
// against any other host makes the jar reject them.
func scoped(cookies []*http.Cookie, host string) []*http.Cookie {
	for _, c := range cookies {
		c.Domain = host
		c.Path = "/"
	}

	return cookies
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
