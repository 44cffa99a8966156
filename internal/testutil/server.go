package testutil

import (
	"net/http/httptest"
	"testing"

	"finitefield.org/storefront-sync/internal/devstore"
)

// NewStore starts the development storefront behind an httptest server.
func NewStore(t testing.TB, opts ...devstore.Option) *httptest.Server {
	t.Helper()

	srv, err := devstore.New(opts...)
	if err != nil {
		t.Fatalf("devstore: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}
