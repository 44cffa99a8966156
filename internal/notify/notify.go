// Package notify delivers blocking, user-visible notifications (the storefront's alert box).
package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

var strict = bluemonday.StrictPolicy()

// Sanitize turns a server-supplied message into plain text: markup is stripped and
// entities are decoded, since notifications are never rendered as HTML.
func Sanitize(message string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(message)))
}

// WriterNotifier prints each notification on its own line.
type WriterNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriterNotifier writes notifications to out.
func NewWriterNotifier(out io.Writer) *WriterNotifier {
	return &WriterNotifier{out: out}
}

// Notify implements Notifier.
func (n *WriterNotifier) Notify(_ context.Context, message string) {
	if n == nil || n.out == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.out, "! %s\n", Sanitize(message))
}

// LogNotifier records notifications in the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier logs notifications at warn level.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, message string) {
	n.logger.Warn("user notification", zap.String("notification", Sanitize(message)))
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Sanitize(message))
}

// Messages returns a copy of the recorded notifications, oldest first.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// Multi fans a notification out to every notifier.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, message)
		}
	}
}
