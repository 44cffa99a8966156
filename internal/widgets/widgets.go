// Package widgets binds the storefront's cart and wishlist controls to the mutation
// endpoints and mirrors the server's answers into the page.
//
// Handlers run on the document's loop. The network call happens off the loop and
// its result is applied by a continuation posted back to it, so displayed state is
// only ever written on the loop and only with values the server returned.
package widgets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/storefront-sync/internal/csrf"
	"finitefield.org/storefront-sync/internal/dom"
	"finitefield.org/storefront-sync/internal/i18n"
	"finitefield.org/storefront-sync/internal/mutation"
	"finitefield.org/storefront-sync/internal/notify"
	"finitefield.org/storefront-sync/internal/observability"
)

const productAttr = "data-product-id"

// Default selectors and assets of the storefront markup.
const (
	CartControlSelector      = ".add-to-cart"
	CartCounterSelector      = "#cart-count"
	WishlistControlSelector  = ".wishlist-button"
	WishlistIconSelector     = ".wishlist-icon"
	FavoritesCounterSelector = "#favorites-count"

	DefaultCartEndpoint     mutation.Endpoint = "/cart/add/{productId}/"
	DefaultWishlistEndpoint mutation.Endpoint = "/favorites/toggle/{productId}/"

	DefaultIconFilled  = "/static/images/redWishlist.svg"
	DefaultIconOutline = "/static/images/wishlist.svg"
)

var (
	// ErrMissingProductRef indicates a control without a product identifier.
	ErrMissingProductRef = errors.New("widgets: control has no product id")
	// ErrMissingIcon indicates a wishlist control without its icon element.
	ErrMissingIcon = errors.New("widgets: wishlist control has no icon")
	// ErrServerRejected indicates the server answered but refused the mutation.
	ErrServerRejected = errors.New("widgets: server rejected mutation")
	// ErrNoControl indicates no bound control carries the requested product id.
	ErrNoControl = errors.New("widgets: no control for product")
)

// RejectedError carries the server's explanation for a refused mutation.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", ErrServerRejected.Error(), e.Status)
	}
	return fmt.Sprintf("%s (status %d): %s", ErrServerRejected.Error(), e.Status, e.Message)
}

// Unwrap lets errors.Is match ErrServerRejected.
func (e *RejectedError) Unwrap() error { return ErrServerRejected }

// rejection carries the server's message, cleaned for logging.
func rejection(res mutation.Result) *RejectedError {
	return &RejectedError{Status: res.Status, Message: observability.SanitizeMessage(res.Message)}
}

// Deps are the collaborators shared by both widgets.
type Deps struct {
	Tokens   csrf.Provider
	Client   mutation.Mutator
	Notifier notify.Notifier
	Messages *i18n.Bundle
	Logger   *zap.Logger
}

func (d Deps) validate() (Deps, error) {
	if d.Tokens == nil {
		return d, errors.New("widgets: token provider is required")
	}
	if d.Client == nil {
		return d, errors.New("widgets: mutation client is required")
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(d.Logger)
	}
	if d.Messages == nil {
		bundle, err := i18n.Default()
		if err != nil {
			return d, fmt.Errorf("widgets: load messages: %w", err)
		}
		d.Messages = bundle
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d, nil
}

type settings struct {
	root          string
	control       string
	counter       string
	endpoint      mutation.Endpoint
	iconFilled    string
	iconOutline   string
	locale        string
	delegate      bool
	failureNotice bool
}

// Option customises a widget.
type Option func(*settings)

// WithDelegation installs one click listener on the root instead of one per control,
// so controls added after Bind are covered too.
func WithDelegation() Option {
	return func(s *settings) { s.delegate = true }
}

// WithRoot limits the widget to the container matching selector.
func WithRoot(selector string) Option {
	return func(s *settings) {
		if strings.TrimSpace(selector) != "" {
			s.root = strings.TrimSpace(selector)
		}
	}
}

// WithControlSelector overrides the selector identifying the widget's controls.
func WithControlSelector(selector string) Option {
	return func(s *settings) {
		if strings.TrimSpace(selector) != "" {
			s.control = strings.TrimSpace(selector)
		}
	}
}

// WithCounterSelector overrides the selector of the aggregate counter element.
func WithCounterSelector(selector string) Option {
	return func(s *settings) {
		if strings.TrimSpace(selector) != "" {
			s.counter = strings.TrimSpace(selector)
		}
	}
}

// WithEndpoint overrides the mutation endpoint template.
func WithEndpoint(endpoint mutation.Endpoint) Option {
	return func(s *settings) {
		if strings.TrimSpace(string(endpoint)) != "" {
			s.endpoint = endpoint
		}
	}
}

// WithIcons overrides the wishlist icon assets.
func WithIcons(filled, outline string) Option {
	return func(s *settings) {
		if strings.TrimSpace(filled) != "" {
			s.iconFilled = strings.TrimSpace(filled)
		}
		if strings.TrimSpace(outline) != "" {
			s.iconOutline = strings.TrimSpace(outline)
		}
	}
}

// WithLocale selects the language of user notifications.
func WithLocale(lang string) Option {
	return func(s *settings) { s.locale = strings.TrimSpace(lang) }
}

// WithFailureNotice makes the cart widget notify the user when adding fails. By
// default cart failures are only logged.
func WithFailureNotice() Option {
	return func(s *settings) { s.failureNotice = true }
}

func newSettings(control, counter string, endpoint mutation.Endpoint, opts []Option) settings {
	s := settings{
		control:     control,
		counter:     counter,
		endpoint:    endpoint,
		iconFilled:  DefaultIconFilled,
		iconOutline: DefaultIconOutline,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// controlHandler handles a click that reached control.
type controlHandler func(ev *dom.Event, control *goquery.Selection)

// binder holds what both widgets share: the document, settings and the context that
// bounds requests made by bound handlers.
type binder struct {
	doc      *dom.Document
	deps     Deps
	settings settings
	logger   *zap.Logger
	ctx      context.Context
}

func newBinder(doc *dom.Document, deps Deps, s settings, component string) (*binder, error) {
	if doc == nil {
		return nil, errors.New("widgets: document is required")
	}
	deps, err := deps.validate()
	if err != nil {
		return nil, err
	}
	return &binder{
		doc:      doc,
		deps:     deps,
		settings: s,
		logger:   observability.Component(deps.Logger, component),
		ctx:      context.Background(),
	}, nil
}

// rootSelection must be called on the loop.
func (b *binder) rootSelection() (*goquery.Selection, error) {
	if b.settings.root == "" {
		return b.doc.Root(), nil
	}
	root := b.doc.Find(b.settings.root)
	if root.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", dom.ErrNoMatch, b.settings.root)
	}
	return root, nil
}

func (b *binder) bind(ctx context.Context, handle controlHandler) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.ctx = ctx

	var (
		count int
		err   error
	)
	doErr := b.doc.Loop().Do(ctx, func() {
		var root *goquery.Selection
		root, err = b.rootSelection()
		if err != nil {
			return
		}
		controls := root.Find(b.settings.control)
		if !b.settings.delegate {
			count = b.doc.On(controls, dom.EventClick, func(ev *dom.Event) {
				handle(ev, ev.CurrentTarget)
			})
			return
		}

		selector := b.settings.control
		b.doc.On(root, dom.EventClick, func(ev *dom.Event) {
			control := ev.Target.Closest(selector)
			if control.Length() == 0 || !ev.CurrentTarget.Contains(control.Get(0)) {
				return
			}
			handle(ev, control)
		}, dom.Capture())
		count = controls.Length()
	})
	if doErr != nil {
		return 0, doErr
	}
	if err != nil {
		return 0, err
	}
	b.logger.Debug("widget bound",
		zap.Int("controls", count),
		zap.Bool("delegated", b.settings.delegate),
	)
	return count, nil
}

// click dispatches a click on the first control carrying ref.
func (b *binder) click(ctx context.Context, ref mutation.ProductRef) error {
	var err error
	doErr := b.doc.Loop().Do(ctx, func() {
		var control *goquery.Selection
		control, err = b.control(ref)
		if err != nil {
			return
		}
		b.doc.Dispatch(control, dom.EventClick)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// control must be called on the loop.
func (b *binder) control(ref mutation.ProductRef) (*goquery.Selection, error) {
	root, err := b.rootSelection()
	if err != nil {
		return nil, err
	}
	want := strings.TrimSpace(string(ref))
	control := root.Find(b.settings.control).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.AttrOr(productAttr, "")) == want
	}).First()
	if control.Length() == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoControl, want)
	}
	return control, nil
}

func productRef(control *goquery.Selection) mutation.ProductRef {
	return mutation.ProductRef(strings.TrimSpace(control.AttrOr(productAttr, "")))
}

func (b *binder) productLogger(ref mutation.ProductRef) *zap.Logger {
	return b.logger.With(zap.String("product_id", observability.SanitizeProductRef(string(ref))))
}
