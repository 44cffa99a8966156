package csrf

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/steipete/sweetcookie"
)

// BrowserOptions locates cookies inside local browser profiles.
type BrowserOptions struct {
	// SiteURL is the storefront origin the cookies must apply to.
	SiteURL string
	// Names restricts the result to these cookie names; empty means all.
	Names []string
	// Browsers lists profiles to consult in priority order; empty uses the library default.
	Browsers []string
	// InlineJSON is an exported cookie payload tried before any browser profile.
	InlineJSON []byte
	// Timeout bounds keychain/keyring helper calls.
	Timeout time.Duration
}

// BrowserCookies loads cookies for opts.SiteURL from local browser profiles.
// Warnings from unreadable profiles are returned alongside the cookies.
func BrowserCookies(ctx context.Context, opts BrowserOptions) ([]*http.Cookie, []string, error) {
	browsers := make([]sweetcookie.Browser, 0, len(opts.Browsers))
	for _, b := range opts.Browsers {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			browsers = append(browsers, sweetcookie.Browser(b))
		}
	}
	res, err := sweetcookie.Get(ctx, sweetcookie.Options{
		URL:      opts.SiteURL,
		Names:    opts.Names,
		Browsers: browsers,
		Mode:     sweetcookie.ModeFirst,
		Inline:   sweetcookie.InlineCookies{JSON: opts.InlineJSON},
		Timeout:  opts.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("csrf: load browser cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires != nil {
			hc.Expires = *c.Expires
		}
		switch c.SameSite {
		case sweetcookie.SameSiteLax:
			hc.SameSite = http.SameSiteLaxMode
		case sweetcookie.SameSiteStrict:
			hc.SameSite = http.SameSiteStrictMode
		case sweetcookie.SameSiteNone:
			hc.SameSite = http.SameSiteNoneMode
		}
		out = append(out, hc)
	}
	return out, res.Warnings, nil
}

// BrowserSource reads the token cookie from the user's local browser profile. The
// profile is read once; later calls reuse the result.
type BrowserSource struct {
	opts BrowserOptions
	name string

	once  sync.Once
	token string
	err   error
}

// NewBrowserSource builds a source for cookie name scoped to opts.SiteURL.
func NewBrowserSource(opts BrowserOptions, name string) *BrowserSource {
	if strings.TrimSpace(name) == "" {
		name = DefaultCookieName
	}
	opts.Names = []string{name}
	return &BrowserSource{opts: opts, name: name}
}

// Token implements Provider.
func (s *BrowserSource) Token(ctx context.Context) (string, error) {
	s.once.Do(func() {
		cookies, _, err := BrowserCookies(ctx, s.opts)
		if err != nil {
			s.err = err
			return
		}
		for _, c := range cookies {
			if c.Name == s.name && strings.TrimSpace(c.Value) != "" {
				s.token = c.Value
				return
			}
		}
		s.err = fmt.Errorf("%w: cookie %q not found in local browser profiles", ErrTokenMissing, s.name)
	})
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}
