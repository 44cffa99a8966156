package widgets

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/storefront-sync/internal/dom"
	"finitefield.org/storefront-sync/internal/i18n"
	"finitefield.org/storefront-sync/internal/mutation"
)

// CartSync wires "add to cart" controls to the cart endpoint and mirrors the returned
// cart count into the cart counter.
type CartSync struct {
	*binder
}

// NewCartSync prepares a cart widget for doc. Call Bind to attach it.
func NewCartSync(doc *dom.Document, deps Deps, opts ...Option) (*CartSync, error) {
	s := newSettings(CartControlSelector, CartCounterSelector, DefaultCartEndpoint, opts)
	b, err := newBinder(doc, deps, s, "cart-sync")
	if err != nil {
		return nil, err
	}
	return &CartSync{binder: b}, nil
}

// Bind attaches the click handler and returns how many controls are present. ctx
// also bounds the requests issued by later clicks.
func (c *CartSync) Bind(ctx context.Context) (int, error) {
	return c.bind(ctx, c.handle)
}

// Click presses the cart control of ref as a user would.
func (c *CartSync) Click(ctx context.Context, ref mutation.ProductRef) error {
	return c.click(ctx, ref)
}

func (c *CartSync) handle(_ *dom.Event, control *goquery.Selection) {
	ref := productRef(control)
	if !ref.Valid() {
		c.logger.Error("add to cart skipped", zap.Error(ErrMissingProductRef))
		return
	}
	logger := c.productLogger(ref)

	token, err := c.deps.Tokens.Token(c.ctx)
	if err != nil {
		logger.Error("add to cart skipped", zap.Error(err))
		c.notice()
		return
	}

	ctx := c.ctx
	c.doc.Loop().Go(func() func() {
		res, err := c.deps.Client.Mutate(ctx, c.settings.endpoint, ref, token)
		return func() { c.apply(logger, res, err) }
	})
}

// apply runs on the loop once the response is in.
func (c *CartSync) apply(logger *zap.Logger, res mutation.Result, err error) {
	switch {
	case err != nil:
		logger.Error("add to cart failed", zap.Error(err))
		c.notice()
	case res.Unauthenticated():
		logger.Debug("add to cart ignored for anonymous visitor")
	case res.Status >= 400:
		logger.Warn("add to cart rejected", zap.Error(rejection(res)))
		c.notice()
	case res.CartCount != nil:
		counter := c.doc.Find(c.settings.counter).First()
		if counter.Length() == 0 {
			logger.Warn("cart counter not found", zap.String("selector", c.settings.counter))
			return
		}
		counter.SetText(res.CartCount.String())
		logger.Debug("cart count updated", zap.String("cart_count", res.CartCount.String()))
	}
}

func (c *CartSync) notice() {
	if !c.settings.failureNotice {
		return
	}
	c.deps.Notifier.Notify(c.ctx, c.deps.Messages.T(c.settings.locale, i18n.KeyCartFailed))
}

// Count returns the displayed cart count.
func (c *CartSync) Count(ctx context.Context) (string, error) {
	return c.doc.Text(ctx, c.settings.counter)
}
