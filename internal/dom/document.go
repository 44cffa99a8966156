package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrNoMatch is returned when a selector matches nothing in the document.
var ErrNoMatch = errors.New("dom: selector matched no element")

// Document is an HTML page owned by a Loop. Methods without a context parameter
// must be called from a loop task; the context-taking ones schedule themselves.
type Document struct {
	loop        *Loop
	doc         *goquery.Document
	listeners   map[*html.Node][]listener
	navigations []string
}

// NewDocument wraps an already parsed goquery document.
func NewDocument(loop *Loop, doc *goquery.Document) *Document {
	return &Document{
		loop:      loop,
		doc:       doc,
		listeners: make(map[*html.Node][]listener),
	}
}

// Parse reads HTML from r into a Document bound to loop.
func Parse(loop *Loop, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}
	return NewDocument(loop, doc), nil
}

// Loop returns the loop that owns the document.
func (d *Document) Loop() *Loop { return d.loop }

// Root returns the document selection.
func (d *Document) Root() *goquery.Selection { return d.doc.Selection }

// Find matches selector against the whole document.
func (d *Document) Find(selector string) *goquery.Selection { return d.doc.Find(selector) }

// On registers handler for eventType on every node of sel and returns how many nodes
// received it.
func (d *Document) On(sel *goquery.Selection, eventType string, handler Handler, opts ...ListenerOption) int {
	if sel == nil || handler == nil {
		return 0
	}
	l := listener{eventType: eventType, handler: handler}
	for _, opt := range opts {
		opt(&l)
	}
	for _, n := range sel.Nodes {
		d.listeners[n] = append(d.listeners[n], l)
	}
	return len(sel.Nodes)
}

// Dispatch sends an event of eventType to the first node of target.
func (d *Document) Dispatch(target *goquery.Selection, eventType string) *Event {
	ev := &Event{Type: eventType}
	if target == nil || len(target.Nodes) == 0 {
		return ev
	}
	node := target.Nodes[0]
	ev.Target = d.doc.FindNodes(node)
	if ev.Target.Length() == 0 {
		ev.Target = target.First()
	}

	var path []*html.Node
	for n := node; n != nil; n = n.Parent {
		path = append(path, n)
	}

	// capture: outermost ancestor down to the target
	for i := len(path) - 1; i >= 0 && !ev.stopped; i-- {
		d.invoke(path[i], ev, true)
	}
	// target and bubble
	for i := 0; i < len(path) && !ev.stopped; i++ {
		d.invoke(path[i], ev, false)
	}

	if eventType == EventClick && !ev.defaultPrevented {
		if link := ev.Target.Closest("a[href]"); link.Length() > 0 {
			d.navigations = append(d.navigations, link.AttrOr("href", ""))
		}
	}
	ev.CurrentTarget = nil
	return ev
}

func (d *Document) invoke(n *html.Node, ev *Event, capture bool) {
	listeners := d.listeners[n]
	if len(listeners) == 0 {
		return
	}
	current := d.currentTarget(n)
	for _, l := range listeners {
		if l.eventType != ev.Type || l.capture != capture {
			continue
		}
		ev.CurrentTarget = current
		l.handler(ev)
	}
}

func (d *Document) currentTarget(n *html.Node) *goquery.Selection {
	if n == d.doc.Selection.Get(0) {
		return d.doc.Selection
	}
	return d.doc.FindNodes(n)
}

// Navigations lists hrefs followed by unprevented clicks, oldest first.
func (d *Document) Navigations() []string {
	out := make([]string, len(d.navigations))
	copy(out, d.navigations)
	return out
}

// Click dispatches a click on the first element matching selector.
func (d *Document) Click(ctx context.Context, selector string) error {
	var err error
	if doErr := d.loop.Do(ctx, func() {
		target := d.doc.Find(selector).First()
		if target.Length() == 0 {
			err = fmt.Errorf("%w: %s", ErrNoMatch, selector)
			return
		}
		d.Dispatch(target, EventClick)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Text returns the trimmed text of the first element matching selector.
func (d *Document) Text(ctx context.Context, selector string) (string, error) {
	var (
		text string
		err  error
	)
	if doErr := d.loop.Do(ctx, func() {
		sel := d.doc.Find(selector).First()
		if sel.Length() == 0 {
			err = fmt.Errorf("%w: %s", ErrNoMatch, selector)
			return
		}
		text = strings.TrimSpace(sel.Text())
	}); doErr != nil {
		return "", doErr
	}
	return text, err
}

// Attr returns attribute name of the first element matching selector.
func (d *Document) Attr(ctx context.Context, selector, name string) (string, error) {
	var (
		value string
		err   error
	)
	if doErr := d.loop.Do(ctx, func() {
		sel := d.doc.Find(selector).First()
		if sel.Length() == 0 {
			err = fmt.Errorf("%w: %s", ErrNoMatch, selector)
			return
		}
		value = sel.AttrOr(name, "")
	}); doErr != nil {
		return "", doErr
	}
	return value, err
}

// NavigationLog returns Navigations from outside the loop.
func (d *Document) NavigationLog(ctx context.Context) ([]string, error) {
	var out []string
	err := d.loop.Do(ctx, func() {
		out = d.Navigations()
	})
	return out, err
}

// HTML renders the current document.
func (d *Document) HTML(ctx context.Context) (string, error) {
	var (
		out string
		err error
	)
	if doErr := d.loop.Do(ctx, func() {
		out, err = d.doc.Html()
	}); doErr != nil {
		return "", doErr
	}
	return out, err
}

// SetText replaces the content of every element matching selector with text.
func (d *Document) SetText(ctx context.Context, selector, text string) error {
	var err error
	if doErr := d.loop.Do(ctx, func() {
		sel := d.doc.Find(selector)
		if sel.Length() == 0 {
			err = fmt.Errorf("%w: %s", ErrNoMatch, selector)
			return
		}
		sel.SetText(text)
	}); doErr != nil {
		return doErr
	}
	return err
}

// SetAttr sets attribute name on every element matching selector.
func (d *Document) SetAttr(ctx context.Context, selector, name, value string) error {
	var err error
	if doErr := d.loop.Do(ctx, func() {
		sel := d.doc.Find(selector)
		if sel.Length() == 0 {
			err = fmt.Errorf("%w: %s", ErrNoMatch, selector)
			return
		}
		sel.SetAttr(name, value)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Append parses fragment and appends it to the first element matching selector.
func (d *Document) Append(ctx context.Context, selector, fragment string) error {
	var err error
	if doErr := d.loop.Do(ctx, func() {
		sel := d.doc.Find(selector).First()
		if sel.Length() == 0 {
			err = fmt.Errorf("%w: %s", ErrNoMatch, selector)
			return
		}
		sel.AppendHtml(fragment)
	}); doErr != nil {
		return doErr
	}
	return err
}
