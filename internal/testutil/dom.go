package testutil

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"finitefield.org/storefront-sync/internal/dom"
)

// ParseHTML parses the provided HTML payload into a goquery document for assertions.
func ParseHTML(t testing.TB, body []byte) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

// RunLoop starts a UI loop that stops when the test ends.
func RunLoop(t testing.TB) *dom.Loop {
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

// Settle waits until loop has no queued tasks and no requests in flight.
func Settle(t testing.TB, loop *dom.Loop) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := loop.Wait(ctx); err != nil {
		t.Fatalf("loop did not settle: %v", err)
	}
}
