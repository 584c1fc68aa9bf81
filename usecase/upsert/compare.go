package upsert

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/fastygo/opendatahub/domain"
)

// volatileFields change on every write and never count as a content change.
var volatileFields = map[string]struct{}{
	domain.FieldLastChange:  {},
	domain.FieldMeta:        {},
	domain.FieldFirstImport: {},
}

// Fingerprint hashes the canonical JSON of doc without the volatile fields.
func Fingerprint(doc map[string]interface{}) string {
	content := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if _, skip := volatileFields[k]; skip {
			continue
		}
		content[k] = v
	}
	return hashValue(content)
}

func hashValue(v interface{}) string {
	raw, _ := json.Marshal(canonical(v))
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// canonical normalizes numbers so that 1, 1.0 and 1e0 compare equal.
func canonical(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = canonical(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = canonical(child)
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	}
	return v
}

// ChangedFields lists the top-level keys whose content differs.
func ChangedFields(incoming, existing map[string]interface{}) []string {
	keys := make(map[string]struct{}, len(incoming)+len(existing))
	for k := range incoming {
		keys[k] = struct{}{}
	}
	for k := range existing {
		keys[k] = struct{}{}
	}

	var changed []string
	for k := range keys {
		if _, skip := volatileFields[k]; skip {
			continue
		}
		if hashValue(incoming[k]) != hashValue(existing[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
