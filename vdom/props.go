package vdom

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var attrAliases = map[string]string{
	"className": "class",
	"htmlFor":   "for",
	"tabIndex":  "tabindex",
	"readOnly":  "readonly",
}

// unitless style properties never get a px suffix.
var unitless = map[string]bool{
	"opacity":    true,
	"zIndex":     true,
	"flex":       true,
	"flexGrow":   true,
	"flexShrink": true,
	"fontWeight": true,
	"lineHeight": true,
	"order":      true,
}

// AttrsFromProps maps component props to HTML attributes. Children, keys,
// refs, event handlers and function values never become attributes.
func AttrsFromProps(props map[string]any) map[string]string {
	attrs := make(map[string]string, len(props))
	for name, v := range props {
		switch name {
		case "children", "key", "ref", "dangerouslySetInnerHTML":
			continue
		}
		if isHandlerName(name) || v == nil {
			continue
		}
		if alias, ok := attrAliases[name]; ok {
			name = alias
		}
		if name == "style" {
			if style, ok := v.(map[string]any); ok {
				if s := styleString(style); s != "" {
					attrs["style"] = s
				}
				continue
			}
		}
		if s, ok := attrValue(name, v); ok {
			attrs[name] = s
		}
	}
	return attrs
}

func isHandlerName(name string) bool {
	if len(name) < 3 || !strings.HasPrefix(name, "on") {
		return false
	}
	return unicode.IsUpper(rune(name[2]))
}

func attrValue(name string, v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		if !val {
			return "", false
		}
		if strings.HasPrefix(name, "aria-") || strings.HasPrefix(name, "data-") {
			return "true", true
		}
		return "", true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatInt(reflect.ValueOf(v).Convert(reflect.TypeOf(int64(0))).Int(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(reflect.ValueOf(v).Float(), 'f', -1, 32), true
	}
	return "", false
}

func styleString(style map[string]any) string {
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var value string
		switch v := style[k].(type) {
		case string:
			value = v
		case int64:
			value = strconv.FormatInt(v, 10)
			if !unitless[k] && v != 0 {
				value += "px"
			}
		case float64:
			value = strconv.FormatFloat(v, 'f', -1, 64)
			if !unitless[k] && v != 0 {
				value += "px"
			}
		default:
			continue
		}
		if strings.ContainsAny(value, ";{}") {
			continue
		}
		parts = append(parts, kebab(k)+":"+value)
	}
	return strings.Join(parts, ";")
}

func kebab(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
