package provider

import (
	"encoding/json"
	"strings"
)

func lookupOr(m map[string]string, key, def string) string {
	if v, ok := m[strings.ToLower(key)]; ok {
		return v
	}
	return def
}

// parseStyleJSON decodes a provider style array. Invalid JSON is ignored
// so a broken style never blocks the map.
func parseStyleJSON(raw string) ([]interface{}, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	var styles []interface{}
	if err := json.Unmarshal([]byte(raw), &styles); err != nil {
		return nil, false
	}
	return styles, true
}
