package dom

import "github.com/PuerkitoBio/goquery"

// EventClick is the only event type the storefront widgets listen for.
const EventClick = "click"

// Handler reacts to a dispatched event. Handlers run on the loop.
type Handler func(*Event)

// Event is a DOM event travelling through capture, target and bubble phases.
type Event struct {
	Type          string
	Target        *goquery.Selection
	CurrentTarget *goquery.Selection

	defaultPrevented bool
	stopped          bool
}

// PreventDefault cancels the default action, e.g. following an enclosing link.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// StopPropagation keeps the event from reaching handlers on further nodes.
func (e *Event) StopPropagation() { e.stopped = true }

// DefaultPrevented reports whether a handler called PreventDefault.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// PropagationStopped reports whether a handler called StopPropagation.
func (e *Event) PropagationStopped() bool { return e.stopped }

// ListenerOption customises a listener registration.
type ListenerOption func(*listener)

// Capture registers the listener for the capture phase, so it runs on the way down
// before handlers on descendants.
func Capture() ListenerOption {
	return func(l *listener) {
		l.capture = true
	}
}

type listener struct {
	eventType string
	handler   Handler
	capture   bool
}
