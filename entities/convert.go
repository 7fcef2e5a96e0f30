package entities

import "encoding/json"

// Ledger payloads round-trip through JSON, so numbers come back as
// float64 and typed values as plain strings. These helpers normalize on
// the way in.

func asString(v any) string {
	s, _ := v.(string)

	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()

		return int(i)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()

		return f
	default:
		return 0
	}
}
