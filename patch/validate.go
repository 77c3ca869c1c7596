package patch

import (
	"fmt"
	"strings"
)

// ValidateOperations checks every operation path against allowed. An empty allowed set
// permits everything; "-" and "*" segments in allowed paths match any segment.
func ValidateOperations(ops []Operation, allowed []string) error {
	if len(ops) == 0 || len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, p := range allowed {
		set[p] = true
	}
	for i, op := range ops {
		if set[op.Path] || matchWildcard(strings.Split(op.Path, "/"), 1, set, false) {
			continue
		}
		return fmt.Errorf("operation %d: path %q is not allowed", i, op.Path)
	}
	return nil
}

func matchWildcard(segments []string, index int, allowed map[string]bool, wildcard bool) bool {
	if index >= len(segments) {
		return wildcard && allowed[strings.Join(segments, "/")]
	}
	original := segments[index]
	defer func() { segments[index] = original }()

	for _, w := range []string{"-", "*"} {
		segments[index] = w
		if matchWildcard(segments, index+1, allowed, true) {
			return true
		}
	}
	segments[index] = original
	return matchWildcard(segments, index+1, allowed, wildcard)
}
