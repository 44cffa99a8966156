package devstore

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

type visitor struct {
	t      *testing.T
	base   *url.URL
	client *http.Client
}

func newVisitor(t *testing.T, opts ...Option) *visitor {
	t.Helper()
	srv, err := New(opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return &visitor{t: t, base: base, client: &http.Client{Jar: jar}}
}

func (v *visitor) page() *goquery.Document {
	v.t.Helper()
	resp, err := v.client.Get(v.base.String() + "/")
	require.NoError(v.t, err)
	defer resp.Body.Close()
	require.Equal(v.t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(v.t, err)
	return doc
}

func (v *visitor) csrfCookie() string {
	for _, c := range v.client.Jar.Cookies(v.base) {
		if c.Name == CSRFCookieName {
			return c.Value
		}
	}
	return ""
}

func (v *visitor) post(path, token string) (int, map[string]any) {
	v.t.Helper()
	req, err := http.NewRequest(http.MethodPost, v.base.String()+path, strings.NewReader("{}"))
	require.NoError(v.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(CSRFHeaderName, token)
	}
	resp, err := v.client.Do(req)
	require.NoError(v.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(v.t, err)
	var body map[string]any
	require.NoError(v.t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func (v *visitor) login(user string) {
	v.t.Helper()
	resp, err := v.client.Get(v.base.String() + "/login?user=" + url.QueryEscape(user))
	require.NoError(v.t, err)
	resp.Body.Close()
	require.Equal(v.t, http.StatusOK, resp.StatusCode)
	require.Equal(v.t, "/", resp.Request.URL.Path)
}

func TestCatalogPageMarkup(t *testing.T) {
	t.Parallel()
	v := newVisitor(t)
	doc := v.page()

	token, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content")
	require.True(t, ok)
	require.NotEmpty(t, token)
	require.Equal(t, v.csrfCookie(), token)

	require.Equal(t, "0", doc.Find("#cart-count").Text())
	require.Equal(t, "0", doc.Find("#favorites-count").Text())
	require.Equal(t, 4, doc.Find(".product-card").Length())

	card := doc.Find(".product-card").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(".add-to-cart").AttrOr("data-product-id", "") == "42"
	})
	require.Equal(t, 1, card.Length())
	require.Equal(t, "/product/42/", card.Find("a.card-link").AttrOr("href", ""))
	require.Equal(t, 1, card.Find("a.card-link .wishlist-button .wishlist-icon").Length())
	require.Equal(t, DefaultIconOutline, card.Find(".wishlist-icon").AttrOr("src", ""))
	require.Equal(t, 0, card.Find("a.card-link .add-to-cart").Length(), "cart control sits outside the card link")
}

func TestCartAddRequiresCSRF(t *testing.T) {
	t.Parallel()
	v := newVisitor(t)
	v.page()

	status, body := v.post("/cart/add/42/", "")
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, false, body["success"])

	status, _ = v.post("/cart/add/42/", "forged")
	require.Equal(t, http.StatusForbidden, status)

	token := v.csrfCookie()
	status, body = v.post("/cart/add/42/", token)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	require.Equal(t, float64(1), body["cart_count"])

	status, body = v.post("/cart/add/9/", token)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(2), body["cart_count"])

	require.Equal(t, "2", v.page().Find("#cart-count").Text())
}

func TestCartAddUnknownProduct(t *testing.T) {
	t.Parallel()
	v := newVisitor(t)
	v.page()

	status, body := v.post("/cart/add/404/", v.csrfCookie())
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, false, body["success"])
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Product Not Found", envelope["message"])
}

func TestCartRequiresLoginWhenConfigured(t *testing.T) {
	t.Parallel()
	v := newVisitor(t, WithCartRequiresLogin())
	v.page()

	status, _ := v.post("/cart/add/42/", v.csrfCookie())
	require.Equal(t, http.StatusUnauthorized, status)

	v.login("alice")
	status, body := v.post("/cart/add/42/", v.csrfCookie())
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["cart_count"])
}

func TestFavoriteToggle(t *testing.T) {
	t.Parallel()
	v := newVisitor(t)
	v.page()

	status, _ := v.post("/favorites/toggle/9/", v.csrfCookie())
	require.Equal(t, http.StatusUnauthorized, status)

	v.login("alice")
	token := v.csrfCookie()

	status, body := v.post("/favorites/toggle/9/", token)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	require.Equal(t, true, body["is_favorite"])
	require.Equal(t, float64(1), body["favorites_count"])

	doc := v.page()
	require.Equal(t, "1", doc.Find("#favorites-count").Text())
	require.Equal(t, DefaultIconFilled, doc.Find(`.wishlist-button[data-product-id="9"] .wishlist-icon`).AttrOr("src", ""))
	require.Equal(t, "alice", doc.Find(".user").Text())

	status, body = v.post("/favorites/toggle/9/", token)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["is_favorite"])
	require.Equal(t, float64(0), body["favorites_count"])

	status, body = v.post("/favorites/toggle/404/", token)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Product 404 not found", body["message"])
}

func TestLoginRotatesSessionAndToken(t *testing.T) {
	t.Parallel()
	v := newVisitor(t, WithAnonymousFavorites())
	v.page()
	before := v.csrfCookie()

	status, body := v.post("/favorites/toggle/1/", before)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["is_favorite"])

	v.login("bob")
	after := v.csrfCookie()
	require.NotEqual(t, before, after)

	status, _ = v.post("/favorites/toggle/1/", before)
	require.Equal(t, http.StatusForbidden, status)

	// anonymous favorites stay with the anonymous session
	require.Equal(t, "0", v.page().Find("#favorites-count").Text())
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, err := New()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestCustomCatalogAndIcons(t *testing.T) {
	t.Parallel()
	v := newVisitor(t,
		WithCatalog([]Product{{ID: "a", Name: "A"}, {ID: " "}, {ID: "a", Name: "dup"}}),
		WithIcons("/on.svg", "/off.svg"),
	)
	doc := v.page()
	require.Equal(t, 1, doc.Find(".product-card").Length())
	require.Equal(t, "A", doc.Find(".product-name").Text())
	require.Equal(t, "/off.svg", doc.Find(".wishlist-icon").AttrOr("src", ""))
}
