package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// expandTemplate substitutes {key} placeholders with values from data.
// An unresolved placeholder is an error so a half-formed path or summary
// never reaches a sink.
func expandTemplate(tmpl string, data map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(ph string) string {
		key := ph[1 : len(ph)-1]
		if v, ok := data[key]; ok {
			return v
		}
		missing = append(missing, key)
		return ph
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template %q: missing keys %v", tmpl, missing)
	}
	return out, nil
}

// templateData flattens record fields to filename-safe strings.
func templateData(fields map[string]any) map[string]string {
	data := make(map[string]string, len(fields))
	for k, v := range fields {
		data[k] = sanitizeValue(v)
	}
	return data
}

func sanitizeValue(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	case []string:
		s = strings.Join(t, "_")
	default:
		s = fmt.Sprintf("%v", t)
	}
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
