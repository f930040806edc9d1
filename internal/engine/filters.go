package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// comparator prefixes in evaluation order. Two-rune operators come first so
// ">=" is never parsed as ">" followed by "=".
var comparatorOps = []string{">=", "<=", "!=", ">", "<"}

// SplitFilters partitions a client filter mapping into the pre-filter
// pushed to the engine (exact equalities and !value negations) and the
// post-filter evaluated after retrieval (wildcards and comparators). Keys
// are field-sanitized; keys that sanitize to empty are dropped. A scalar
// value is treated as a one-element list.
func SplitFilters(filters map[string]interface{}) (PreFilter, PostFilter) {
	pre := PreFilter{}
	post := PostFilter{}
	for key, raw := range filters {
		safeKey := SanitField(key)
		if safeKey == "" {
			continue
		}
		vals, ok := raw.([]interface{})
		if !ok {
			vals = []interface{}{raw}
		}
		var exacts []PreTerm
		var extended []string
		for _, v := range vals {
			s, isStr := v.(string)
			switch {
			case isStr && isExtendedCond(s):
				extended = append(extended, s)
			case isStr && strings.HasPrefix(s, "!") && len(s) > 1:
				exacts = append(exacts, PreTerm{Value: s[1:], Negate: true})
			default:
				exacts = append(exacts, PreTerm{Value: stringify(v)})
			}
		}
		if len(exacts) > 0 {
			pre[safeKey] = exacts
		}
		if len(extended) > 0 {
			post[safeKey] = extended
		}
	}
	return pre, post
}

func isExtendedCond(s string) bool {
	if strings.HasPrefix(s, "*") || strings.HasSuffix(s, "*") {
		return true
	}
	for _, op := range comparatorOps {
		if strings.HasPrefix(s, op) {
			return true
		}
	}
	return false
}

// MatchesFilters reports whether stored metadata satisfies every
// post-filter field; within a field any condition may match. Recursion over
// list-valued metadata is bounded by the shared depth cap.
func MatchesFilters(meta map[string]interface{}, post PostFilter) bool {
	if len(post) == 0 {
		return true
	}
	for key, conds := range post {
		have := LookupMeta(meta, key)
		matched := false
		for _, cond := range conds {
			if matchCond(have, cond, 0) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchCond(have interface{}, cond string, depth int) bool {
	if depth >= metaMaxDepth {
		return false
	}
	if have == nil {
		return false
	}
	if list, ok := have.([]interface{}); ok {
		for _, item := range list {
			if matchCond(item, cond, depth+1) {
				return true
			}
		}
		return false
	}

	s := SanitSQL(cond, 0)
	hv := stringify(have)

	for _, op := range comparatorOps {
		if strings.HasPrefix(s, op) {
			return compareOrdered(have, op, strings.TrimSpace(s[len(op):]))
		}
	}

	switch {
	case s == "*":
		return true
	case strings.HasPrefix(s, "*") && strings.HasSuffix(s, "*") && len(s) >= 2:
		return strings.Contains(hv, s[1:len(s)-1])
	case strings.HasPrefix(s, "*"):
		return strings.HasSuffix(hv, s[1:])
	case strings.HasSuffix(s, "*"):
		return strings.HasPrefix(hv, s[:len(s)-1])
	case strings.HasPrefix(s, "!") && len(s) > 1:
		return hv != s[1:]
	}
	return hv == s
}

// compareOrdered applies a comparator over numeric values first, falling
// back to ISO-8601 datetimes; anything else fails the condition.
func compareOrdered(have interface{}, op, want string) bool {
	if hn, err := toFloat(have); err == nil {
		if wn, err := strconv.ParseFloat(want, 64); err == nil {
			return applyOp(op, compareFloat(hn, wn))
		}
	}
	ht, herr := parseISOTime(stringify(have))
	wt, werr := parseISOTime(want)
	if herr != nil || werr != nil {
		return false
	}
	return applyOp(op, ht.Compare(wt))
}

func applyOp(op string, cmp int) bool {
	switch op {
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	}
	return false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("not numeric: %T", v)
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a datetime: %q", s)
}

// LookupMeta fetches a metadata value by sanitized key: exact key first,
// then any raw key whose sanitized form matches.
func LookupMeta(meta map[string]interface{}, key string) interface{} {
	if len(meta) == 0 {
		return nil
	}
	if v, ok := meta[key]; ok {
		return v
	}
	for rawKey, v := range meta {
		if SanitField(rawKey) == key {
			return v
		}
	}
	return nil
}

// BuildMatchReason renders the human-readable explanation for one match:
// the similarity percentage when the query was non-empty, then the filter
// keys whose stored values are present. Falls back to "matched".
func BuildMatchReason(query string, score float64, filters map[string]interface{}, meta map[string]interface{}) string {
	var parts []string
	if query != "" {
		parts = append(parts, fmt.Sprintf("semantic similarity %d%%", int(score*100)))
	}
	if len(filters) > 0 {
		keys := make([]string, 0, len(filters))
		for k := range filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var filterParts []string
		for _, k := range keys {
			if v := LookupMeta(meta, SanitField(k)); v != nil {
				filterParts = append(filterParts, fmt.Sprintf("%s=%s", k, stringify(v)))
			}
		}
		if len(filterParts) > 0 {
			parts = append(parts, "filters: "+strings.Join(filterParts, ", "))
		}
	}
	if len(parts) == 0 {
		return "matched"
	}
	return strings.Join(parts, "; ")
}

// stringify renders a metadata value the way it is compared and displayed.
// Floats that carry integral values print without the trailing ".0" JSON
// decoding would otherwise introduce.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
