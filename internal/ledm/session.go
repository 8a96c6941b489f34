package ledm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// TransportError reports a failed request. StatusCode is 0 when no HTTP
// response was received.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Session is the fixed cookie and header set replayed on every request.
// It is immutable after construction.
type Session struct {
	baseURL *url.URL
	cookies []*http.Cookie
	header  http.Header
}

// NewSession builds a Session for the device at baseURL using the given
// session id cookie. A bare host is treated as http://host.
func NewSession(baseURL, sid string) (Session, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return Session{}, err
	}
	h := http.Header{}
	h.Set("User-Agent", DefaultUserAgent)
	h.Set("Accept", AcceptXML)
	h.Set("Accept-Language", DefaultAcceptLanguage)
	h.Set("DNT", "1")
	h.Set("Referer", u.String())
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")

	var cookies []*http.Cookie
	if sid != "" {
		cookies = append(cookies, &http.Cookie{Name: "sid", Value: sid})
	}
	cookies = append(cookies, &http.Cookie{Name: "mobileView", Value: "0"})

	return Session{baseURL: u, cookies: cookies, header: h}, nil
}

// BaseURL returns the device base URL.
func (s Session) BaseURL() string {
	if s.baseURL == nil {
		return ""
	}
	return s.baseURL.String()
}

// Host returns the device host (without port).
func (s Session) Host() string {
	if s.baseURL == nil {
		return ""
	}
	return s.baseURL.Hostname()
}

// Header returns a copy of the session headers.
func (s Session) Header() http.Header { return s.header.Clone() }

// Cookies returns a copy of the session cookies.
func (s Session) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(s.cookies))
	for i, c := range s.cookies {
		cc := *c
		out[i] = &cc
	}
	return out
}

// apply attaches cookies and headers to req. accept overrides Accept when set.
func (s Session) apply(req *http.Request, accept string) {
	for k, v := range s.header {
		req.Header[k] = append([]string(nil), v...)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
}

func (s Session) resolve(path string) string {
	return s.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

// Client performs HTTP requests against the device. It never retries.
type Client struct {
	session Session
	http    *http.Client
}

// NewClient creates a Client for the given session. A nil httpClient uses a
// client with a request timeout suited to XML calls; page downloads should
// pass a client without a whole-request timeout.
func NewClient(session Session, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{session: session, http: httpClient}
}

// Session returns the session used by this client.
func (c *Client) Session() Session { return c.session }

// Get fetches path and returns the body. A 204 response yields an empty body.
func (c *Client) Get(ctx context.Context, path, accept string) ([]byte, error) {
	body, err := c.GetStream(ctx, path, accept)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &TransportError{Method: http.MethodGet, Path: path, Err: err}
	}
	return data, nil
}

// Post sends body to path with the given content type.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.session.resolve(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.session.apply(req, "")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// GetStream fetches path and returns the open response body. The caller
// must close it.
func (c *Client) GetStream(ctx context.Context, path, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.session.resolve(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.session.apply(req, accept)

	resp, err := c.do(req, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return resp.Body, nil
}

func (c *Client) do(req *http.Request, path string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: path, Err: err}
	}
	slog.Debug("device request",
		"method", req.Method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &TransportError{Method: req.Method, Path: path, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("printer url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse printer url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("printer url %q has no host", raw)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
