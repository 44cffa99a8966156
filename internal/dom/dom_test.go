package dom_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront-sync/internal/dom"
)

const cardPage = `<!doctype html>
<html><body>
  <a class="card" href="/product/9/">
    <span class="title">Lamp</span>
    <button class="wishlist-button" data-product-id="9"><img class="wishlist-icon" src="/outline.svg"></button>
  </a>
  <span id="counter">0</span>
</body></html>`

func startLoop(t *testing.T) *dom.Loop {
	t.Helper()
	loop := dom.NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

func parse(t *testing.T, loop *dom.Loop, page string) *dom.Document {
	t.Helper()
	doc, err := dom.Parse(loop, strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestClickBubblesAndFollowsLink(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	doc := parse(t, loop, cardPage)
	ctx := context.Background()

	var (
		order    []string
		targetID string
	)
	require.NoError(t, loop.Do(ctx, func() {
		doc.On(doc.Find(".card"), dom.EventClick, func(ev *dom.Event) {
			order = append(order, "card")
		})
		doc.On(doc.Find(".wishlist-button"), dom.EventClick, func(ev *dom.Event) {
			order = append(order, "button")
			targetID = ev.Target.AttrOr("data-product-id", "")
		})
	}))

	require.NoError(t, doc.Click(ctx, ".wishlist-button"))
	require.NoError(t, loop.Wait(ctx))

	require.Equal(t, []string{"button", "card"}, order)
	require.Equal(t, "9", targetID)
	navs, err := doc.NavigationLog(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"/product/9/"}, navs)
}

func TestStopPropagationAndPreventDefault(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	doc := parse(t, loop, cardPage)
	ctx := context.Background()

	cardCalled := false
	require.NoError(t, loop.Do(ctx, func() {
		doc.On(doc.Find(".card"), dom.EventClick, func(*dom.Event) { cardCalled = true })
		doc.On(doc.Find(".wishlist-button"), dom.EventClick, func(ev *dom.Event) {
			ev.PreventDefault()
			ev.StopPropagation()
		})
	}))

	require.NoError(t, doc.Click(ctx, ".wishlist-icon"))

	navs, err := doc.NavigationLog(ctx)
	require.NoError(t, err)
	require.Empty(t, navs)
	require.False(t, cardCalled)
}

func TestCaptureListenerRunsBeforeDescendants(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	doc := parse(t, loop, cardPage)
	ctx := context.Background()

	var order []string
	require.NoError(t, loop.Do(ctx, func() {
		doc.On(doc.Find(".card"), dom.EventClick, func(*dom.Event) { order = append(order, "card") })
		doc.On(doc.Root(), dom.EventClick, func(ev *dom.Event) {
			order = append(order, "root-capture")
			if ev.Target.Closest(".wishlist-button").Length() > 0 {
				ev.StopPropagation()
			}
		}, dom.Capture())
	}))

	require.NoError(t, doc.Click(ctx, ".wishlist-icon"))
	require.Equal(t, []string{"root-capture"}, order)

	order = nil
	require.NoError(t, doc.Click(ctx, ".title"))
	require.Equal(t, []string{"root-capture", "card"}, order)
}

func TestClickUnknownSelector(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	doc := parse(t, loop, cardPage)

	err := doc.Click(context.Background(), ".missing")
	require.ErrorIs(t, err, dom.ErrNoMatch)
}

func TestTextAndAttrReflectLoopWrites(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	doc := parse(t, loop, cardPage)
	ctx := context.Background()

	loop.Post(func() {
		doc.Find("#counter").SetText("7")
		doc.Find(".wishlist-icon").SetAttr("src", "/filled.svg")
	})
	require.NoError(t, loop.Wait(ctx))

	text, err := doc.Text(ctx, "#counter")
	require.NoError(t, err)
	require.Equal(t, "7", text)

	src, err := doc.Attr(ctx, ".wishlist-icon", "src")
	require.NoError(t, err)
	require.Equal(t, "/filled.svg", src)

	out, err := doc.HTML(ctx)
	require.NoError(t, err)
	require.Contains(t, out, `src="/filled.svg"`)
}

func TestLoopGoPostsContinuationAndWaitCoversInFlightWork(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release := make(chan struct{})
	var applied atomic.Int32
	loop.Go(func() func() {
		<-release
		return func() { applied.Add(1) }
	})

	waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer waitCancel()
	require.ErrorIs(t, loop.Wait(waitCtx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, loop.Wait(ctx))
	require.EqualValues(t, 1, applied.Load())
}

func TestLoopRecoversPanickingTask(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	ctx := context.Background()

	loop.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, loop.Do(ctx, func() { ran = true }))
	require.True(t, ran)
	require.NoError(t, loop.Wait(ctx))
}

func TestSetTextSetAttrAndAppend(t *testing.T) {
	t.Parallel()
	loop := startLoop(t)
	doc := parse(t, loop, cardPage)
	ctx := context.Background()

	require.NoError(t, doc.SetText(ctx, "#counter", "12"))
	require.NoError(t, doc.SetAttr(ctx, ".wishlist-icon", "src", "/filled.svg"))
	require.NoError(t, doc.Append(ctx, "body", `<button class="late" data-product-id="3">late</button>`))

	text, err := doc.Text(ctx, "#counter")
	require.NoError(t, err)
	require.Equal(t, "12", text)

	src, err := doc.Attr(ctx, ".wishlist-icon", "src")
	require.NoError(t, err)
	require.Equal(t, "/filled.svg", src)

	id, err := doc.Attr(ctx, ".late", "data-product-id")
	require.NoError(t, err)
	require.Equal(t, "3", id)

	require.ErrorIs(t, doc.SetText(ctx, "#missing", "1"), dom.ErrNoMatch)
}

func TestLoopDoDropsTaskAbandonedBeforeItRan(t *testing.T) {
	t.Parallel()
	loop := dom.NewLoop(nil)

	abandoned, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Bool
	require.ErrorIs(t, loop.Do(abandoned, func() { ran.Store(true) }), context.Canceled)

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(runCtx)
	}()
	t.Cleanup(func() {
		stop()
		<-done
	})

	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	require.NoError(t, loop.Wait(ctx))
	require.False(t, ran.Load())

	require.NoError(t, loop.Do(ctx, func() { ran.Store(true) }))
	require.True(t, ran.Load())
}
