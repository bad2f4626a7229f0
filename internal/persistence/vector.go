package persistence

import (
	"fmt"
	"strconv"
	"strings"
)

// formatVector converts a []float64 to pgvector literal format: [1,2,3]
func formatVector(embedding []float64) string {
	strs := make([]string, len(embedding))
	for i, v := range embedding {
		strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(strs, ",") + "]"
}

// parseVector converts a pgvector literal back into a []float64.
// Returns nil for empty input so callers can treat missing vectors uniformly.
func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec[i] = v
	}
	return vec, nil
}
