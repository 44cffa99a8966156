// Package storefront plays the browser: it keeps the cookie jar, loads the catalog
// page into a document and wires the widgets to it from configuration.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/storefront-sync/internal/csrf"
	"finitefield.org/storefront-sync/internal/dom"
)

const loginPath = "/login"

// ErrUnexpectedStatus indicates the storefront answered a page request with a non-2xx status.
var ErrUnexpectedStatus = errors.New("storefront: unexpected status")

// Session is one visitor: a cookie jar shared by page loads and mutation requests.
type Session struct {
	base     *url.URL
	pagePath string
	jar      http.CookieJar
	client   *http.Client
	logger   *zap.Logger
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithPagePath sets the page loaded by Open.
func WithPagePath(path string) SessionOption {
	return func(s *Session) {
		if strings.TrimSpace(path) != "" {
			s.pagePath = strings.TrimSpace(path)
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession starts a cookie-carrying session against the storefront at baseURL.
func NewSession(baseURL string, opts ...SessionOption) (*Session, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("storefront: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("storefront: base URL %q must be absolute", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("storefront: cookie jar: %w", err)
	}
	s := &Session{
		base:     base,
		pagePath: "/",
		jar:      jar,
		client:   &http.Client{Jar: jar},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BaseURL returns the storefront origin.
func (s *Session) BaseURL() *url.URL {
	u := *s.base
	return &u
}

// HTTPClient returns the client carrying the session's cookies.
func (s *Session) HTTPClient() *http.Client { return s.client }

// Jar returns the session's cookie jar.
func (s *Session) Jar() http.CookieJar { return s.jar }

// Seed adds cookies, e.g. ones imported from a local browser profile.
func (s *Session) Seed(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	s.jar.SetCookies(s.base, cookies)
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	s.logger.Debug("session seeded", zap.Strings("cookies", names))
}

// SeedFromBrowser imports the storefront's cookies from local browser profiles, so
// the session continues where the user's browser is signed in.
func (s *Session) SeedFromBrowser(ctx context.Context, opts csrf.BrowserOptions) (int, error) {
	opts.SiteURL = s.base.String()
	cookies, warnings, err := csrf.BrowserCookies(ctx, opts)
	for _, w := range warnings {
		s.logger.Warn("browser cookie warning", zap.String("warning", w))
	}
	if err != nil {
		return 0, err
	}
	s.Seed(cookies)
	return len(cookies), nil
}

// SignIn uses the development storefront's login route.
func (s *Session) SignIn(ctx context.Context, user string) error {
	if strings.TrimSpace(user) == "" {
		return errors.New("storefront: user is required")
	}
	target := s.resolve(loginPath + "?user=" + url.QueryEscape(strings.TrimSpace(user)))
	resp, err := s.get(ctx, target)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Open loads the page and hands it to loop as a Document.
func (s *Session) Open(ctx context.Context, loop *dom.Loop) (*dom.Document, error) {
	resp, err := s.get(ctx, s.resolve(s.pagePath))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	doc, err := dom.Parse(loop, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storefront: load page: %w", err)
	}
	s.logger.Debug("page loaded", zap.String("url", resp.Request.URL.String()))
	return doc, nil
}

func (s *Session) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("storefront: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storefront: get %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s answered %d", ErrUnexpectedStatus, target, resp.StatusCode)
	}
	return resp, nil
}

func (s *Session) resolve(path string) string {
	ref, err := url.Parse("/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return s.base.String()
	}
	return s.base.ResolveReference(ref).String()
}
