package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile          = ".env"
	defaultPagePath         = "/"
	defaultCSRFSource       = SourceMeta
	defaultCSRFCookie       = "csrftoken"
	defaultCSRFMeta         = "csrf-token"
	defaultCSRFHeader       = "X-CSRFToken"
	defaultCartEndpoint     = "/cart/add/{productId}/"
	defaultWishlistEndpoint = "/favorites/toggle/{productId}/"
	defaultIconFilled       = "/static/images/redWishlist.svg"
	defaultIconOutline      = "/static/images/wishlist.svg"
	defaultTimeout          = 10 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultLocale           = "en"
	defaultDevAddr          = ":8090"
)

// Token sources understood by STOREFRONT_CSRF_SOURCE.
const (
	SourceCookie  = "cookie"
	SourceMeta    = "meta"
	SourceBrowser = "browser"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Storefront StorefrontConfig
	CSRF       CSRFConfig
	Widgets    WidgetConfig
	Client     ClientConfig
	Browser    BrowserConfig
	Locale     string
	DevAddr    string
}

// StorefrontConfig locates the shop and its mutation endpoints.
type StorefrontConfig struct {
	BaseURL          string
	PagePath         string
	CartEndpoint     string
	WishlistEndpoint string
}

// CSRFConfig selects the anti-forgery token strategy for the deployment.
type CSRFConfig struct {
	Source     string
	CookieName string
	MetaName   string
	HeaderName string
}

// WidgetConfig holds the assets swapped by the wishlist control.
type WidgetConfig struct {
	IconFilled  string
	IconOutline string
}

// ClientConfig tunes the mutation client.
type ClientConfig struct {
	Timeout         time.Duration
	BreakerEnabled  bool
	BreakerFailures int
	BreakerCooldown time.Duration
}

// BrowserConfig lists local browsers consulted for session cookies, in priority order.
type BrowserConfig struct {
	Browsers []string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration by combining defaults, .env overrides and
// environment variables.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Storefront: StorefrontConfig{
			BaseURL:          strings.TrimRight(strings.TrimSpace(stringWithDefault(lookup, "STOREFRONT_BASE_URL", "")), "/"),
			PagePath:         stringWithDefault(lookup, "STOREFRONT_PAGE_PATH", defaultPagePath),
			CartEndpoint:     stringWithDefault(lookup, "STOREFRONT_CART_ENDPOINT", defaultCartEndpoint),
			WishlistEndpoint: stringWithDefault(lookup, "STOREFRONT_WISHLIST_ENDPOINT", defaultWishlistEndpoint),
		},
		CSRF: CSRFConfig{
			Source:     strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CSRF_SOURCE", defaultCSRFSource)),
			CookieName: stringWithDefault(lookup, "STOREFRONT_CSRF_COOKIE", defaultCSRFCookie),
			MetaName:   stringWithDefault(lookup, "STOREFRONT_CSRF_META", defaultCSRFMeta),
			HeaderName: stringWithDefault(lookup, "STOREFRONT_CSRF_HEADER", defaultCSRFHeader),
		},
		Widgets: WidgetConfig{
			IconFilled:  stringWithDefault(lookup, "STOREFRONT_ICON_FILLED", defaultIconFilled),
			IconOutline: stringWithDefault(lookup, "STOREFRONT_ICON_OUTLINE", defaultIconOutline),
		},
		Client: ClientConfig{
			Timeout:         durationWithDefault(lookup, "STOREFRONT_TIMEOUT", defaultTimeout),
			BreakerEnabled:  boolWithDefault(lookup, "STOREFRONT_BREAKER_ENABLED", false),
			BreakerFailures: intWithDefault(lookup, "STOREFRONT_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: durationWithDefault(lookup, "STOREFRONT_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
		Browser: BrowserConfig{
			Browsers: csvWithDefault(lookup, "STOREFRONT_BROWSERS"),
		},
		Locale:  stringWithDefault(lookup, "STOREFRONT_LOCALE", defaultLocale),
		DevAddr: stringWithDefault(lookup, "STOREFRONT_DEV_ADDR", defaultDevAddr),
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var fields []string
	if cfg.Storefront.BaseURL == "" {
		fields = append(fields, "STOREFRONT_BASE_URL")
	} else if u, err := url.Parse(cfg.Storefront.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		fields = append(fields, "STOREFRONT_BASE_URL")
	}
	switch cfg.CSRF.Source {
	case SourceCookie, SourceMeta, SourceBrowser:
	default:
		fields = append(fields, "STOREFRONT_CSRF_SOURCE")
	}
	if !strings.Contains(cfg.Storefront.CartEndpoint, "{productId}") {
		fields = append(fields, "STOREFRONT_CART_ENDPOINT")
	}
	if !strings.Contains(cfg.Storefront.WishlistEndpoint, "{productId}") {
		fields = append(fields, "STOREFRONT_WISHLIST_ENDPOINT")
	}
	if cfg.Client.Timeout <= 0 {
		fields = append(fields, "STOREFRONT_TIMEOUT")
	}
	if cfg.Client.BreakerEnabled && cfg.Client.BreakerFailures <= 0 {
		fields = append(fields, "STOREFRONT_BREAKER_FAILURES")
	}
	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
