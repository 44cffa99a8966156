// Package csrf resolves the anti-forgery token the storefront requires on mutation
// requests. A deployment picks exactly one Source; widgets only see the Provider.
package csrf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Default names used by the storefront.
const (
	DefaultCookieName = "csrftoken"
	DefaultMetaName   = "csrf-token"
)

// ErrTokenMissing indicates the configured source holds no usable token.
var ErrTokenMissing = errors.New("csrf: token missing")

// Provider produces the token attached to mutation requests.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts ordinary functions to Provider.
type ProviderFunc func(context.Context) (string, error)

// Token calls f.
func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always returns the same token. A blank token yields ErrTokenMissing.
func Static(token string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		if strings.TrimSpace(token) == "" {
			return "", fmt.Errorf("%w: static token is empty", ErrTokenMissing)
		}
		return token, nil
	})
}

// CookieHeaderSource extracts the token from a raw cookie string such as a request's
// Cookie header or a page's document.cookie.
type CookieHeaderSource struct {
	name    string
	pattern *regexp.Regexp
	header  func() string
}

// NewCookieHeaderSource matches cookie name inside the string returned by header,
// which is consulted on every Token call.
func NewCookieHeaderSource(name string, header func() string) *CookieHeaderSource {
	if strings.TrimSpace(name) == "" {
		name = DefaultCookieName
	}
	return &CookieHeaderSource{
		name:    name,
		pattern: regexp.MustCompile(`(?:^|;\s*)` + regexp.QuoteMeta(name) + `=([^;]+)`),
		header:  header,
	}
}

// Token implements Provider.
func (s *CookieHeaderSource) Token(context.Context) (string, error) {
	raw := ""
	if s.header != nil {
		raw = s.header()
	}
	match := s.pattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return "", fmt.Errorf("%w: cookie %q not present", ErrTokenMissing, s.name)
	}
	value, err := url.PathUnescape(strings.TrimSpace(match[1]))
	if err != nil {
		value = strings.TrimSpace(match[1])
	}
	if value == "" {
		return "", fmt.Errorf("%w: cookie %q is empty", ErrTokenMissing, s.name)
	}
	return value, nil
}

// JarSource reads the token cookie the storefront set in a client cookie jar.
type JarSource struct {
	jar  http.CookieJar
	site *url.URL
	name string
}

// NewJarSource builds a source for cookie name as seen by requests to site.
func NewJarSource(jar http.CookieJar, site *url.URL, name string) *JarSource {
	if strings.TrimSpace(name) == "" {
		name = DefaultCookieName
	}
	return &JarSource{jar: jar, site: site, name: name}
}

// Token implements Provider.
func (s *JarSource) Token(context.Context) (string, error) {
	if s.jar == nil || s.site == nil {
		return "", fmt.Errorf("%w: cookie jar not configured", ErrTokenMissing)
	}
	for _, c := range s.jar.Cookies(s.site) {
		if c.Name == s.name && strings.TrimSpace(c.Value) != "" {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("%w: cookie %q not set for %s", ErrTokenMissing, s.name, s.site.Host)
}

// MetaTagSource reads the token from <meta name="csrf-token" content="...">.
// The document is read on every call, so Token must run where reading the page is safe.
type MetaTagSource struct {
	root *goquery.Selection
	name string
}

// NewMetaTagSource builds a source over the page rooted at root.
func NewMetaTagSource(root *goquery.Selection, name string) *MetaTagSource {
	if strings.TrimSpace(name) == "" {
		name = DefaultMetaName
	}
	return &MetaTagSource{root: root, name: name}
}

// Token implements Provider.
func (s *MetaTagSource) Token(context.Context) (string, error) {
	if s.root == nil {
		return "", fmt.Errorf("%w: no page loaded", ErrTokenMissing)
	}
	var token string
	s.root.Find("meta").EachWithBreak(func(_ int, meta *goquery.Selection) bool {
		if meta.AttrOr("name", "") != s.name {
			return true
		}
		token = strings.TrimSpace(meta.AttrOr("content", ""))
		return false
	})
	if token == "" {
		return "", fmt.Errorf("%w: meta tag %q not present", ErrTokenMissing, s.name)
	}
	return token, nil
}
