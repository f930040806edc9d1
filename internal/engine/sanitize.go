package engine

import (
	"strings"
	"unicode"
)

var sqlReplacer = strings.NewReplacer(
	";", " ",
	`"`, " ",
	"`", " ",
	`\`, " ",
	"\x00", " ",
)

var sqlCutTokens = []string{"--", "/*", "*/"}

// SanitSQL renders a value safe for embedding in a single-quoted SQL
// literal: dangerous runes become spaces, everything after a comment token
// is cut, the result is trimmed and optionally truncated to maxLen runes
// (maxLen <= 0 disables), and remaining single quotes are doubled. The
// function is idempotent.
func SanitSQL(value string, maxLen int) string {
	text := sqlReplacer.Replace(value)
	for _, tok := range sqlCutTokens {
		if i := strings.Index(text, tok); i >= 0 {
			text = text[:i]
		}
	}
	text = strings.TrimSpace(text)
	if maxLen > 0 {
		r := []rune(text)
		if len(r) > maxLen {
			text = string(r[:maxLen])
		}
	}
	return strings.ReplaceAll(strings.ReplaceAll(text, "''", "'"), "'", "''")
}

// SanitField strips every rune that is not alphanumeric, underscore or
// dash. Idempotent; an unsanitizable key collapses to "".
func SanitField(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '-' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// metaMaxDepth bounds recursive metadata coercion and post-filter
// evaluation over nested collections.
const metaMaxDepth = 10

// SanitizeMeta coerces arbitrary decoded metadata into the stored shape:
// keys are field-sanitized (dropping keys that collapse to empty and the
// reserved "text" key), string values are SQL-sanitized, scalars pass
// through, and nested lists/maps recurse up to the depth cap.
func SanitizeMeta(meta map[string]interface{}) map[string]interface{} {
	return sanitizeMetaDepth(meta, 0)
}

func sanitizeMetaDepth(meta map[string]interface{}, depth int) map[string]interface{} {
	safe := map[string]interface{}{}
	if meta == nil || depth >= metaMaxDepth {
		return safe
	}
	for rawKey, rawVal := range meta {
		key := SanitField(rawKey)
		if key == "" || key == "text" {
			continue
		}
		safe[key] = sanitizeMetaValue(rawVal, depth+1)
	}
	return safe
}

func sanitizeMetaValue(v interface{}, depth int) interface{} {
	if depth >= metaMaxDepth {
		return nil
	}
	switch t := v.(type) {
	case nil, bool, int, int64, float64:
		return t
	case string:
		return SanitSQL(t, 0)
	case map[string]interface{}:
		return sanitizeMetaDepth(t, depth)
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, item := range t {
			out = append(out, sanitizeMetaValue(item, depth+1))
		}
		return out
	default:
		return SanitSQL(stringify(t), 0)
	}
}
