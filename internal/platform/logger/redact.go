package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

const defaultContentMax = 200

var secretKeys = []string{"token", "authorization", "password", "secret", "cookie", "api_key", "apikey"}

// Chat text is user data: it is clipped, never dropped, so a log line still
// shows which query it belongs to.
var contentKeys = []string{"query", "content", "text", "delta"}

type redactRules struct {
	enabled    bool
	salt       string
	contentMax int
}

var (
	rulesOnce sync.Once
	rules     redactRules
)

func currentRules() redactRules {
	rulesOnce.Do(func() {
		rules = redactRules{enabled: true, contentMax: defaultContentMax}
		switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
		case "0", "false", "no", "off":
			rules.enabled = false
		}
		rules.salt = strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("LOG_CONTENT_MAX"))); err == nil && n > 0 {
			rules.contentMax = n
		}
	})
	return rules
}

func sanitize(kv []any) []any {
	r := currentRules()
	if len(kv) == 0 || !r.enabled {
		return kv
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := toString(kv[i])
		out = append(out, key, r.value(strings.ToLower(strings.TrimSpace(key)), kv[i+1]))
	}
	return out
}

func (r redactRules) value(key string, val any) any {
	switch {
	case key == "":
		return val
	case containsAny(key, secretKeys):
		return "[REDACTED]"
	case strings.HasSuffix(key, "user_id"):
		return r.hash(val)
	case containsAny(key, contentKeys):
		if s, ok := val.(string); ok {
			return clip(s, r.contentMax)
		}
	}
	if m, ok := val.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = r.value(strings.ToLower(strings.TrimSpace(k)), v)
		}
		return out
	}
	return val
}

func (r redactRules) hash(val any) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	_, _ = h.Write([]byte(r.salt))
	_, _ = h.Write([]byte(raw))
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func clip(s string, max int) string {
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max]) + fmt.Sprintf("…(+%d)", len(rs)-max)
}

func containsAny(key string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(key, n) {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
