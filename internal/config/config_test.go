package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BASE_URL": "https://shop.example.com/",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Storefront.BaseURL != "https://shop.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Storefront.BaseURL)
	}
	if cfg.Storefront.PagePath != "/" {
		t.Errorf("unexpected page path: %s", cfg.Storefront.PagePath)
	}
	if cfg.Storefront.CartEndpoint != defaultCartEndpoint {
		t.Errorf("unexpected cart endpoint: %s", cfg.Storefront.CartEndpoint)
	}
	if cfg.Storefront.WishlistEndpoint != defaultWishlistEndpoint {
		t.Errorf("unexpected wishlist endpoint: %s", cfg.Storefront.WishlistEndpoint)
	}
	if cfg.CSRF.Source != SourceMeta {
		t.Errorf("expected meta token source, got %s", cfg.CSRF.Source)
	}
	if cfg.CSRF.CookieName != "csrftoken" || cfg.CSRF.MetaName != "csrf-token" || cfg.CSRF.HeaderName != "X-CSRFToken" {
		t.Errorf("unexpected csrf defaults: %+v", cfg.CSRF)
	}
	if cfg.Client.Timeout != 10*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.Client.Timeout)
	}
	if cfg.Client.BreakerEnabled {
		t.Errorf("breaker should be disabled by default")
	}
	if len(cfg.Browser.Browsers) != 0 {
		t.Errorf("expected no browsers, got %v", cfg.Browser.Browsers)
	}
	if cfg.Locale != "en" {
		t.Errorf("unexpected locale: %s", cfg.Locale)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BASE_URL":         "http://localhost:8090",
		"STOREFRONT_CSRF_SOURCE":      "COOKIE",
		"STOREFRONT_TIMEOUT":          "3s",
		"STOREFRONT_BREAKER_ENABLED":  "yes",
		"STOREFRONT_BREAKER_FAILURES": "2",
		"STOREFRONT_BREAKER_COOLDOWN": "1m",
		"STOREFRONT_BROWSERS":         "firefox, chrome,,",
		"STOREFRONT_LOCALE":           "ru",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.CSRF.Source != SourceCookie {
		t.Errorf("expected cookie source, got %s", cfg.CSRF.Source)
	}
	if cfg.Client.Timeout != 3*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.Client.Timeout)
	}
	if !cfg.Client.BreakerEnabled || cfg.Client.BreakerFailures != 2 || cfg.Client.BreakerCooldown != time.Minute {
		t.Errorf("unexpected breaker config: %+v", cfg.Client)
	}
	if len(cfg.Browser.Browsers) != 2 || cfg.Browser.Browsers[0] != "firefox" || cfg.Browser.Browsers[1] != "chrome" {
		t.Errorf("unexpected browsers: %v", cfg.Browser.Browsers)
	}
	if cfg.Locale != "ru" {
		t.Errorf("unexpected locale: %s", cfg.Locale)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_CSRF_SOURCE":   "header",
		"STOREFRONT_CART_ENDPOINT": "/cart/add/",
		"STOREFRONT_TIMEOUT":       "-1s",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"STOREFRONT_BASE_URL":      true,
		"STOREFRONT_CSRF_SOURCE":   true,
		"STOREFRONT_CART_ENDPOINT": true,
		"STOREFRONT_TIMEOUT":       true,
	}
	fields := vErr.Fields()
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields: %v", fields)
	}
	for _, f := range fields {
		if !want[f] {
			t.Errorf("unexpected field %s", f)
		}
	}
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "STOREFRONT_BASE_URL=http://dotenv.example\nexport STOREFRONT_LOCALE=\"ja\"\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"STOREFRONT_LOCALE": "ru",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storefront.BaseURL != "http://dotenv.example" {
		t.Errorf("expected base url from .env, got %s", cfg.Storefront.BaseURL)
	}
	if cfg.Locale != "ru" {
		t.Errorf("expected env map to win over .env, got %s", cfg.Locale)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "missing.env")),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"STOREFRONT_BASE_URL": "http://localhost"}),
	)
	if err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}
