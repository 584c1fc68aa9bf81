package domain

import "sort"

// Languages lists the language codes recognised as keys of localized sub-maps, in display order.
var Languages = []string{"de", "it", "en", "nl", "cs", "pl", "fr", "ru", "ld", "lld", "sl"}

var languageSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Languages))
	for _, l := range Languages {
		set[l] = struct{}{}
	}
	return set
}()

// IsLanguage reports whether code is a known language code.
func IsLanguage(code string) bool {
	_, ok := languageSet[code]
	return ok
}

// IsLocalizedMap reports whether every key of m is a language code.
func IsLocalizedMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !IsLanguage(k) {
			return false
		}
	}
	return true
}

// DetectLanguages walks a generic JSON value and returns the sorted set of languages
// for which some localized sub-map holds non-empty content.
func DetectLanguages(value interface{}) []string {
	found := make(map[string]struct{})
	detectLanguages(value, found)
	out := make([]string, 0, len(found))
	for l := range found {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func detectLanguages(value interface{}, found map[string]struct{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		if IsLocalizedMap(v) {
			for lang, content := range v {
				if !IsEmptyValue(content) {
					found[lang] = struct{}{}
				}
			}
			return
		}
		for _, child := range v {
			detectLanguages(child, found)
		}
	case []interface{}:
		for _, child := range v {
			detectLanguages(child, found)
		}
	}
}

// IsEmptyValue reports null, empty strings, empty arrays and objects whose values are all empty.
func IsEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		for _, child := range v {
			if !IsEmptyValue(child) {
				return false
			}
		}
		return true
	}
	return false
}
