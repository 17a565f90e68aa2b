package terminal

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
	"github.com/zhaoge0202/EnsoAI/internal/shared/id"
)

// Tool params arrive as decoded JSON, so numbers are float64 and objects
// are map[string]interface{}.

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func requiredString(params map[string]interface{}, key string) (string, error) {
	s := strings.TrimSpace(stringParam(params, key))
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func sessionParam(params map[string]interface{}) (id.TerminalID, error) {
	s, err := requiredString(params, "session_id")
	if err != nil {
		return "", err
	}
	return id.TerminalID(s), nil
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func boolParam(params map[string]interface{}, key string) bool {
	b, _ := params[key].(bool)
	return b
}

// stringsParam returns nil when key is absent so callers can tell it apart
// from an explicit empty list.
func stringsParam(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		return lo.FilterMap(v, func(item interface{}, _ int) (string, bool) {
			s, ok := item.(string)
			return s, ok
		})
	default:
		return nil
	}
}

func stringMapParam(params map[string]interface{}, key string) map[string]string {
	switch v := params[key].(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

func durationMSParam(params map[string]interface{}, key string) time.Duration {
	ms, ok := intParam(params, key)
	if !ok || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// shellConfigParam reads the settings-style shell selection, if any.
func shellConfigParam(params map[string]interface{}) *shell.Config {
	kind := stringParam(params, "shell_kind")
	if kind == "" {
		return nil
	}
	return &shell.Config{
		Kind:   shell.Kind(kind),
		Path:   stringParam(params, "shell_path"),
		Args:   stringsParam(params, "shell_args"),
		Distro: stringParam(params, "distro"),
	}
}

// inputParam accepts "input" as text or "input_base64" for raw bytes.
func inputParam(params map[string]interface{}) ([]byte, error) {
	if encoded := stringParam(params, "input_base64"); encoded != "" {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid input_base64: %w", err)
		}
		return data, nil
	}
	input, ok := params["input"].(string)
	if !ok {
		return nil, fmt.Errorf("input is required")
	}
	return []byte(input), nil
}
