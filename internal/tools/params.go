package tools

import apperrors "lerian-sync-engine/internal/errors"

// requiredString extracts a required, non-empty string parameter.
func requiredString(params map[string]interface{}, key string) (string, *apperrors.StandardError) {
	v, ok := params[key]
	if !ok {
		return "", apperrors.NewRequiredFieldError(key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", apperrors.NewRequiredFieldError(key)
	}
	return s, nil
}

func optionalString(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func optionalBool(params map[string]interface{}, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func optionalInt(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func optionalStringSlice(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optionalMap(params map[string]interface{}, key string) map[string]interface{} {
	if m, ok := params[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func optionalMapSlice(params map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, m)
		} else {
			out = append(out, nil)
		}
	}
	return out
}
