package i18n

import (
	"sort"
)

// Report is the comparison of one catalog with the base catalog.
type Report struct {
	Language Language
	Missing  []string
	Extra    []string
}

// Valid reports whether the catalog has exactly the base keys.
func (r Report) Valid() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0
}

// BaseKeys returns the flattened keys of the base catalog.
func (t *Translator) BaseKeys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return FlattenKeys(t.catalogs[BaseLanguage])
}

// Validate compares every non-base catalog with the base catalog.
func (t *Translator) Validate() []Report {
	base := t.BaseKeys()
	baseSet := toSet(base)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var reports []Report
	for _, lang := range sortedLanguages(t.catalogs) {
		if lang == BaseLanguage {
			continue
		}
		keys := FlattenKeys(t.catalogs[lang])
		keySet := toSet(keys)

		r := Report{Language: lang}
		for _, k := range base {
			if _, ok := keySet[k]; !ok {
				r.Missing = append(r.Missing, k)
			}
		}
		for _, k := range keys {
			if _, ok := baseSet[k]; !ok {
				r.Extra = append(r.Extra, k)
			}
		}
		reports = append(reports, r)
	}
	return reports
}

// FlattenKeys returns the dotted paths of every leaf in catalog, sorted.
func FlattenKeys(catalog map[string]any) []string {
	var keys []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			full := k
			if prefix != "" {
				full = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(full, child)
				continue
			}
			keys = append(keys, full)
		}
	}
	walk("", catalog)
	sort.Strings(keys)
	return keys
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func sortedLanguages(catalogs map[Language]map[string]any) []Language {
	langs := make([]Language, 0, len(catalogs))
	for l := range catalogs {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}
