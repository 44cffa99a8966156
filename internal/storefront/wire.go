package storefront

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"finitefield.org/storefront-sync/internal/config"
	"finitefield.org/storefront-sync/internal/csrf"
	"finitefield.org/storefront-sync/internal/dom"
	"finitefield.org/storefront-sync/internal/i18n"
	"finitefield.org/storefront-sync/internal/mutation"
	"finitefield.org/storefront-sync/internal/notify"
	"finitefield.org/storefront-sync/internal/widgets"
)

// Page is a loaded document with both widgets bound to it.
type Page struct {
	Doc      *dom.Document
	Cart     *widgets.CartSync
	Wishlist *widgets.WishlistSync
	Tokens   csrf.Provider
}

// WireDeps are the collaborators Wire cannot derive from configuration.
type WireDeps struct {
	Notifier notify.Notifier
	Messages *i18n.Bundle
	Logger   *zap.Logger
	// Mutator replaces the HTTP mutation client when set.
	Mutator mutation.Mutator
	// BrowserCookies is an exported cookie payload consulted by the browser token source.
	BrowserCookies []byte
	Delegate       bool
	CartNotice     bool
}

// TokenProvider picks the configured token strategy. The meta source reads doc and
// must only be called from loop tasks, which is where the widgets call it.
func TokenProvider(cfg config.Config, sess *Session, doc *dom.Document, inline []byte) (csrf.Provider, error) {
	switch cfg.CSRF.Source {
	case config.SourceCookie:
		return csrf.NewJarSource(sess.Jar(), sess.BaseURL(), cfg.CSRF.CookieName), nil
	case config.SourceMeta:
		if doc == nil {
			return nil, errors.New("storefront: meta token source needs a loaded page")
		}
		return csrf.NewMetaTagSource(doc.Root(), cfg.CSRF.MetaName), nil
	case config.SourceBrowser:
		return csrf.NewBrowserSource(csrf.BrowserOptions{
			SiteURL:    sess.BaseURL().String(),
			Browsers:   cfg.Browser.Browsers,
			InlineJSON: inline,
			Timeout:    cfg.Client.Timeout,
		}, cfg.CSRF.CookieName), nil
	default:
		return nil, fmt.Errorf("storefront: unknown csrf source %q", cfg.CSRF.Source)
	}
}

// NewClient builds the mutation client for the session's storefront.
func NewClient(cfg config.Config, sess *Session, logger *zap.Logger) (*mutation.Client, error) {
	opts := []mutation.Option{
		mutation.WithTokenHeader(cfg.CSRF.HeaderName),
		mutation.WithTimeout(cfg.Client.Timeout),
		mutation.WithLogger(logger),
	}
	if cfg.Client.BreakerEnabled {
		opts = append(opts, mutation.WithCircuitBreaker(cfg.Client.BreakerFailures, cfg.Client.BreakerCooldown))
	}
	return mutation.NewClient(sess.BaseURL().String(), sess.HTTPClient(), opts...)
}

// Wire binds the cart and wishlist widgets to doc as configured.
func Wire(ctx context.Context, cfg config.Config, sess *Session, doc *dom.Document, deps WireDeps) (*Page, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tokens, err := TokenProvider(cfg, sess, doc, deps.BrowserCookies)
	if err != nil {
		return nil, err
	}
	client := deps.Mutator
	if client == nil {
		c, err := NewClient(cfg, sess, logger.Named("mutation"))
		if err != nil {
			return nil, err
		}
		client = c
	}

	messages := deps.Messages
	if messages == nil {
		if messages, err = i18n.Default(); err != nil {
			return nil, fmt.Errorf("storefront: load messages: %w", err)
		}
	}
	locale := messages.Resolve(cfg.Locale)

	shared := widgets.Deps{
		Tokens:   tokens,
		Client:   client,
		Notifier: deps.Notifier,
		Messages: messages,
		Logger:   logger,
	}
	common := []widgets.Option{widgets.WithLocale(locale)}
	if deps.Delegate {
		common = append(common, widgets.WithDelegation())
	}

	cartOpts := append([]widgets.Option{widgets.WithEndpoint(mutation.Endpoint(cfg.Storefront.CartEndpoint))}, common...)
	if deps.CartNotice {
		cartOpts = append(cartOpts, widgets.WithFailureNotice())
	}
	cart, err := widgets.NewCartSync(doc, shared, cartOpts...)
	if err != nil {
		return nil, err
	}
	wishlist, err := widgets.NewWishlistSync(doc, shared, append([]widgets.Option{
		widgets.WithEndpoint(mutation.Endpoint(cfg.Storefront.WishlistEndpoint)),
		widgets.WithIcons(cfg.Widgets.IconFilled, cfg.Widgets.IconOutline),
	}, common...)...)
	if err != nil {
		return nil, err
	}

	carts, err := cart.Bind(ctx)
	if err != nil {
		return nil, fmt.Errorf("storefront: bind cart: %w", err)
	}
	toggles, err := wishlist.Bind(ctx)
	if err != nil {
		return nil, fmt.Errorf("storefront: bind wishlist: %w", err)
	}
	logger.Info("widgets bound",
		zap.Int("cart_controls", carts),
		zap.Int("wishlist_controls", toggles),
		zap.String("csrf_source", cfg.CSRF.Source),
		zap.String("locale", locale),
	)
	return &Page{Doc: doc, Cart: cart, Wishlist: wishlist, Tokens: tokens}, nil
}
