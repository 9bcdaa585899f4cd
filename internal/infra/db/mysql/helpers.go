package mysql

import (
	"encoding/json"
	"strings"
)

// jsonOrEmpty returns "{}"/"[]"-safe JSON text for a column that requires
// valid JSON; invalid input is wrapped instead of dropped.
func jsonOrEmpty(s, empty string) string {
	if strings.TrimSpace(s) == "" {
		return empty
	}
	var js any
	if json.Unmarshal([]byte(s), &js) != nil {
		b, _ := json.Marshal(map[string]string{"raw": s})
		return string(b)
	}
	return s
}
