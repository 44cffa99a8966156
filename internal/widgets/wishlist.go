package widgets

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/storefront-sync/internal/dom"
	"finitefield.org/storefront-sync/internal/i18n"
	"finitefield.org/storefront-sync/internal/mutation"
	"finitefield.org/storefront-sync/internal/notify"
)

// IconState is what a wishlist control's icon currently shows.
type IconState int

const (
	IconUnknown IconState = iota
	IconOutline
	IconFilled
)

func (s IconState) String() string {
	switch s {
	case IconOutline:
		return "outline"
	case IconFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// WishlistSync wires wishlist toggles to the favorites endpoint. Each control's icon
// follows the server's is_favorite and the shared counter its favorites_count.
type WishlistSync struct {
	*binder
}

// NewWishlistSync prepares a wishlist widget for doc. Call Bind to attach it.
func NewWishlistSync(doc *dom.Document, deps Deps, opts ...Option) (*WishlistSync, error) {
	s := newSettings(WishlistControlSelector, FavoritesCounterSelector, DefaultWishlistEndpoint, opts)
	b, err := newBinder(doc, deps, s, "wishlist-sync")
	if err != nil {
		return nil, err
	}
	return &WishlistSync{binder: b}, nil
}

// Bind attaches the click handler and returns how many controls are present. ctx
// also bounds the requests issued by later clicks.
func (w *WishlistSync) Bind(ctx context.Context) (int, error) {
	return w.bind(ctx, w.handle)
}

// Click presses the wishlist control of ref as a user would.
func (w *WishlistSync) Click(ctx context.Context, ref mutation.ProductRef) error {
	return w.click(ctx, ref)
}

func (w *WishlistSync) handle(ev *dom.Event, control *goquery.Selection) {
	// the control sits inside a clickable product card
	ev.PreventDefault()
	ev.StopPropagation()

	ref := productRef(control)
	if !ref.Valid() {
		w.logger.Error("wishlist toggle skipped", zap.Error(ErrMissingProductRef))
		return
	}
	logger := w.productLogger(ref)

	icon := control.Find(WishlistIconSelector).First()
	if icon.Length() == 0 {
		logger.Error("wishlist toggle skipped", zap.Error(ErrMissingIcon))
		return
	}

	token, err := w.deps.Tokens.Token(w.ctx)
	if err != nil {
		w.fail(logger, err)
		return
	}

	ctx := w.ctx
	w.doc.Loop().Go(func() func() {
		res, err := w.deps.Client.Mutate(ctx, w.settings.endpoint, ref, token)
		return func() { w.apply(logger, icon, res, err) }
	})
}

// apply runs on the loop once the response is in. Icon and counter are written in
// the same task, and only when the server accepted the toggle.
func (w *WishlistSync) apply(logger *zap.Logger, icon *goquery.Selection, res mutation.Result, err error) {
	switch {
	case err != nil:
		w.fail(logger, err)
		return
	case res.Unauthenticated():
		logger.Debug("wishlist toggle ignored for anonymous visitor")
		return
	case !res.Success:
		logger.Warn("wishlist toggle rejected", zap.Error(rejection(res)))
		w.deps.Notifier.Notify(w.ctx, w.deps.Messages.Tf(w.settings.locale, i18n.KeyWishlistRejected, notify.Sanitize(res.Message)))
		return
	}

	if res.IsFavorite != nil {
		src := w.settings.iconOutline
		if *res.IsFavorite {
			src = w.settings.iconFilled
		}
		icon.SetAttr("src", src)
	}
	if res.FavoritesCount != nil {
		if counter := w.doc.Find(w.settings.counter).First(); counter.Length() > 0 {
			counter.SetText(res.FavoritesCount.String())
		} else {
			logger.Warn("favorites counter not found", zap.String("selector", w.settings.counter))
		}
	}
	logger.Debug("wishlist toggled",
		zap.Bool("is_favorite_present", res.IsFavorite != nil),
		zap.Bool("favorites_count_present", res.FavoritesCount != nil),
	)
}

func (w *WishlistSync) fail(logger *zap.Logger, err error) {
	logger.Error("wishlist toggle failed", zap.Error(err))
	w.deps.Notifier.Notify(w.ctx, w.deps.Messages.T(w.settings.locale, i18n.KeyWishlistFailed))
}

// State reports the icon state of the control for ref.
func (w *WishlistSync) State(ctx context.Context, ref mutation.ProductRef) (IconState, error) {
	var (
		state IconState
		err   error
	)
	doErr := w.doc.Loop().Do(ctx, func() {
		var control *goquery.Selection
		control, err = w.control(ref)
		if err != nil {
			return
		}
		state = w.iconState(control)
	})
	if doErr != nil {
		return IconUnknown, doErr
	}
	return state, err
}

// States reports the icon state of every control, keyed by product id. Controls
// without an id are skipped.
func (w *WishlistSync) States(ctx context.Context) (map[mutation.ProductRef]IconState, error) {
	out := map[mutation.ProductRef]IconState{}
	var err error
	doErr := w.doc.Loop().Do(ctx, func() {
		var root *goquery.Selection
		root, err = w.rootSelection()
		if err != nil {
			return
		}
		root.Find(w.settings.control).Each(func(_ int, control *goquery.Selection) {
			if ref := productRef(control); ref.Valid() {
				if _, seen := out[ref]; !seen {
					out[ref] = w.iconState(control)
				}
			}
		})
	})
	if doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, fmt.Errorf("widgets: wishlist states: %w", err)
	}
	return out, nil
}

// iconState must be called on the loop.
func (w *WishlistSync) iconState(control *goquery.Selection) IconState {
	src := control.Find(WishlistIconSelector).First().AttrOr("src", "")
	switch src {
	case w.settings.iconFilled:
		return IconFilled
	case w.settings.iconOutline:
		return IconOutline
	default:
		return IconUnknown
	}
}

// Count returns the displayed favorites count.
func (w *WishlistSync) Count(ctx context.Context) (string, error) {
	return w.doc.Text(ctx, w.settings.counter)
}
