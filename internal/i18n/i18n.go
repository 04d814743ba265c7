// Package i18n translates CLI messages. Catalogs are nested YAML maps looked
// up by dotted key; missing values fall back to English and then to "[key]".
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kandev/diffview/internal/common/logger"
)

// Language is a catalog identifier.
type Language string

const (
	English  Language = "en"
	Spanish  Language = "es"
	Japanese Language = "ja"
)

// BaseLanguage is the reference catalog and last-resort fallback.
const BaseLanguage = English

// EnvLanguage overrides locale detection.
const EnvLanguage = "DIFFVIEW_LANG"

//go:embed translations/*.yaml
var embedded embed.FS

// Translator resolves keys against the loaded catalogs.
type Translator struct {
	mu       sync.RWMutex
	catalogs map[Language]map[string]any
	current  Language
	logger   *logger.Logger
}

// New loads the built-in catalogs.
func New(log *logger.Logger) (*Translator, error) {
	sub, err := fs.Sub(embedded, "translations")
	if err != nil {
		return nil, err
	}
	return NewFromFS(sub, log)
}

// NewFromFS loads every *.yaml file at the root of fsys as a catalog named
// after the file.
func NewFromFS(fsys fs.FS, log *logger.Logger) (*Translator, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}

	t := &Translator{
		catalogs: make(map[Language]map[string]any, len(files)),
		current:  BaseLanguage,
		logger:   log.WithFields(zap.String("component", "i18n")),
	}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		var catalog map[string]any
		if err := yaml.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		t.catalogs[Language(strings.TrimSuffix(path.Base(name), ".yaml"))] = catalog
	}
	return t, nil
}

// Languages returns the loaded catalogs in sorted order.
func (t *Translator) Languages() []Language {
	t.mu.RLock()
	defer t.mu.RUnlock()

	langs := make([]Language, 0, len(t.catalogs))
	for l := range t.catalogs {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// SetLanguage switches the current catalog. Unknown languages fall back to English.
func (t *Translator) SetLanguage(lang Language) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.catalogs[lang]; ok {
		t.current = lang
		return
	}
	t.logger.Warn("language not available, falling back to English", zap.String("language", string(lang)))
	t.current = BaseLanguage
}

// Language returns the current language.
func (t *Translator) Language() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// T returns the translation of key.
func (t *Translator) T(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if v, ok := lookup(t.catalogs[t.current], key); ok {
		return v
	}
	if v, ok := lookup(t.catalogs[BaseLanguage], key); ok {
		return v
	}
	return "[" + key + "]"
}

// Tf formats the translation of key with args.
func (t *Translator) Tf(key string, args ...any) string {
	return fmt.Sprintf(t.T(key), args...)
}

func lookup(catalog map[string]any, key string) (string, bool) {
	var cur any = catalog
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[part]; !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// DetectLanguage picks a language from the environment: DIFFVIEW_LANG when it
// names a supported language, otherwise the prefix of LANG, LANGUAGE or LC_ALL.
func DetectLanguage(getenv func(string) string) Language {
	switch l := Language(strings.TrimSpace(getenv(EnvLanguage))); l {
	case English, Spanish, Japanese:
		return l
	}

	locale := getenv("LANG")
	if locale == "" {
		locale = getenv("LANGUAGE")
	}
	if locale == "" {
		locale = getenv("LC_ALL")
	}
	switch {
	case strings.HasPrefix(locale, "es"):
		return Spanish
	case strings.HasPrefix(locale, "ja"):
		return Japanese
	default:
		return English
	}
}
