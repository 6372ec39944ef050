package chat

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

// Params are the generation knobs read from a provider config's parameter map.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// ParseParams reads max_tokens and temperature from a JSON object. Absent keys
// take the defaults; an explicit zero is kept. Numbers may also be given as
// numeric strings.
func ParseParams(raw string) (Params, error) {
	p := Params{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return p, nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return p, fmt.Errorf("parameters must be a JSON object: %w", err)
	}

	if v, ok := m["max_tokens"]; ok && v != nil {
		n, err := toFloat(v)
		if err != nil {
			return p, fmt.Errorf("max_tokens: %w", err)
		}
		if n < 0 {
			return p, fmt.Errorf("max_tokens must not be negative")
		}
		if n > math.MaxInt32 {
			return p, fmt.Errorf("max_tokens is too large")
		}
		p.MaxTokens = int(n)
	}
	if v, ok := m["temperature"]; ok && v != nil {
		f, err := toFloat(v)
		if err != nil {
			return p, fmt.Errorf("temperature: %w", err)
		}
		p.Temperature = f
	}
	return p, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
