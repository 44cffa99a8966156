package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embedded embed.FS

// Message keys used by the widgets.
const (
	KeyWishlistRejected = "wishlist.rejected"
	KeyWishlistFailed   = "wishlist.failed"
	KeyCartFailed       = "cart.failed"
)

type Bundle struct {
	dict     map[string]map[string]string
	fallback string
	tags     []language.Tag
	matcher  language.Matcher
}

// Default loads the locales shipped with the binary, falling back to English.
func Default() (*Bundle, error) {
	return Load(embedded, "locales", "en")
}

// Load reads every <lang>.yaml file under dir. The fallback locale must be present.
func Load(fsys fs.FS, dir string, fallback string) (*Bundle, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read %s: %w", dir, err)
	}
	b := &Bundle{
		dict:     map[string]map[string]string{},
		fallback: fallback,
	}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		lang := strings.TrimSuffix(e.Name(), ".yaml")
		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("i18n: load locale %s: %w", lang, err)
		}
		var m map[string]string
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("i18n: unmarshal %s: %w", lang, err)
		}
		b.dict[lang] = m
	}
	if _, ok := b.dict[fallback]; !ok {
		return nil, fmt.Errorf("i18n: fallback locale %s not loaded", fallback)
	}

	// fallback first so the matcher prefers it on ties
	b.tags = append(b.tags, language.Make(fallback))
	for _, lang := range b.Supported() {
		if lang != fallback {
			b.tags = append(b.tags, language.Make(lang))
		}
	}
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

func (b *Bundle) Supported() []string {
	out := make([]string, 0, len(b.dict))
	for k := range b.dict {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fallback returns the configured fallback language.
func (b *Bundle) Fallback() string { return b.fallback }

// T returns translation for key in lang, falling back to default and finally key.
func (b *Bundle) T(lang, key string) string {
	if lang != "" {
		if m, ok := b.dict[lang]; ok {
			if v, ok := m[key]; ok {
				return v
			}
		}
	}
	if m, ok := b.dict[b.fallback]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

// Tf formats the translation of key with args.
func (b *Bundle) Tf(lang, key string, args ...any) string {
	return fmt.Sprintf(b.T(lang, key), args...)
}

// Resolve picks the best supported locale for a preference such as "ru-RU" or an
// Accept-Language style list "ja;q=0.8, en;q=0.9".
func (b *Bundle) Resolve(pref string) string {
	if strings.TrimSpace(pref) == "" {
		return b.fallback
	}
	desired, _, err := language.ParseAcceptLanguage(pref)
	if err != nil || len(desired) == 0 {
		return b.fallback
	}
	_, idx, conf := b.matcher.Match(desired...)
	if conf == language.No {
		return b.fallback
	}
	base, _ := b.tags[idx].Base()
	return base.String()
}
