// Package enums mirrors the Postgres enum types. Each type lists its values
// once, in the order of the CREATE TYPE statement.
package enums

import (
	"fmt"
	"slices"
)

type valueSet[T ~string] []T

func (s valueSet[T]) contains(v T) bool { return slices.Contains(s, v) }

func (s valueSet[T]) parse(kind, raw string) (T, error) {
	if v := T(raw); s.contains(v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
