package enums

import (
	"fmt"
	"slices"
)

func known[T ~string](values []T, v T) bool {
	return slices.Contains(values, v)
}

func parse[T ~string](values []T, raw, label string) (T, error) {
	if v := T(raw); known(values, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", label, raw)
}
