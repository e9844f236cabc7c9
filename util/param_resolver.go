package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveParams renders every string in params against data. Tokens look like
// {$.input.email}; a string that is exactly one token keeps the looked up
// value's type, otherwise values are formatted into the string.
func ResolveParams(data map[string]any, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(data, v)
	}
	return out
}

func resolveValue(data map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ResolveParams(data, val)
	case []any:
		list := make([]any, 0, len(val))
		for _, item := range val {
			list = append(list, resolveValue(data, item))
		}
		return list
	case string:
		return resolveString(data, val)
	default:
		return v
	}
}

func resolveString(data map[string]any, s string) any {
	tokens := tokenPattern.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	if len(tokens) == 1 && tokens[0] == s {
		if value, ok := lookup(data, s); ok {
			return value
		}
		return s
	}
	for _, token := range tokens {
		if value, ok := lookup(data, token); ok {
			s = strings.ReplaceAll(s, token, fmt.Sprintf("%v", value))
		}
	}
	return s
}

func lookup(data map[string]any, token string) (any, bool) {
	path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
	if !strings.HasPrefix(path, "$") {
		return nil, false
	}
	value, err := jsonpath.JsonPathLookup(data, path)
	if err != nil {
		return nil, false
	}
	return value, true
}

// CopyMap returns a shallow copy of m, never nil.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeMaps returns base overlaid with each of overlays in order.
func MergeMaps(base map[string]any, overlays ...map[string]any) map[string]any {
	out := CopyMap(base)
	for _, o := range overlays {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}
