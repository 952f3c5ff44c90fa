package index

import "strings"

// immutableSettings are assigned by the cluster and rejected by a create
// call. They appear flat (index.uuid), nested ({"index":{"uuid":..}}) or bare.
var immutableSettings = []string{
	"uuid",
	"version",
	"creation_date",
	"provided_name",
	"routing",
	"resize",
}

func isImmutable(key string) bool {
	key = strings.TrimPrefix(key, "index.")
	for _, name := range immutableSettings {
		if key == name || strings.HasPrefix(key, name+".") {
			return true
		}
	}
	return false
}

// StripImmutableSettings returns a copy of settings without server-assigned keys.
func StripImmutableSettings(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		if isImmutable(k) {
			continue
		}
		if k == "index" || k == "settings" {
			if nested, ok := v.(map[string]any); ok {
				v = StripImmutableSettings(nested)
			}
		}
		out[k] = v
	}
	return out
}
