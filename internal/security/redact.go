package security

import (
	"fmt"
	"strings"
)

// MaxLoggedValueLength truncates long string values such as encoded images.
const MaxLoggedValueLength = 256

const redacted = "***"

var sensitiveSubstrings = []string{
	"token",
	"password",
	"passwd",
	"pwd",
	"passphrase",
	"authorization",
	"apikey",
	"api_key",
	"access_key",
	"private_key",
	"credential",
	"secret",
	"cookie",
	"jwt",
	"bearer",
	"signature",
}

// typedTextKeys hold keystroke payloads that may carry secrets.
var typedTextKeys = map[string]struct{}{
	"text":  {},
	"keys":  {},
	"input": {},
}

// RedactArguments returns a copy of arguments with sensitive values replaced
// and long strings truncated. Nested objects are redacted recursively.
func RedactArguments(values map[string]any) map[string]any {
	return redactMap(values, false)
}

// RedactTyped is RedactArguments for tools that inject keyboard input: free
// text fields are hidden as well.
func RedactTyped(values map[string]any) map[string]any {
	return redactMap(values, true)
}

func redactMap(values map[string]any, typed bool) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		if isSensitiveKey(key) {
			out[key] = redacted
			continue
		}
		if typed {
			if _, ok := typedTextKeys[strings.ToLower(key)]; ok {
				out[key] = redacted
				continue
			}
		}
		out[key] = redactValue(value, typed)
	}
	return out
}

func redactValue(value any, typed bool) any {
	switch v := value.(type) {
	case map[string]any:
		return redactMap(v, typed)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = redactValue(item, typed)
		}
		return items
	case string:
		if len(v) > MaxLoggedValueLength {
			return fmt.Sprintf("%s...(%d bytes)", v[:MaxLoggedValueLength], len(v))
		}
		return v
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if strings.HasSuffix(lower, "_name") || strings.HasSuffix(lower, "_id") {
		return false
	}
	for _, part := range sensitiveSubstrings {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
