package webhook

import (
	"strconv"
	"strings"
	"time"
)

// object is a loosely typed JSON object. Provider payloads come from
// no-code tools and mix strings, numbers and nesting freely.
type object map[string]any

// obj returns the nested object at key, or an empty one.
func (o object) obj(key string) object {
	if m, ok := o[key].(map[string]any); ok {
		return object(m)
	}
	return object{}
}

// str returns the first non-empty value among keys as a trimmed string.
func (o object) str(keys ...string) string {
	for _, k := range keys {
		switch v := o[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			if v {
				return "true"
			}
		}
	}
	return ""
}

// num returns the first numeric value among keys. Numeric strings parse.
func (o object) num(keys ...string) float64 {
	for _, k := range keys {
		switch v := o[k].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// strMap returns the string-valued entries of the object at key.
func (o object) strMap(key string) map[string]string {
	m := o.obj(key)
	out := map[string]string{}
	for k := range m {
		if s := m.str(k); s != "" {
			out[k] = s
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// parseTime accepts the timestamp shapes seen in provider payloads. It
// returns the zero time when s matches none.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.UnixMilli(sec).UTC()
		}
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}
