package patch

import (
	"fmt"

	"github.com/tbxark/stepform/types"
)

// FromEntries turns captured entries into add operations keyed by field id.
func FromEntries(entries types.Entries) []Operation {
	ops := make([]Operation, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, Operation{Op: OperationAdd, Path: "/" + escapePointer(e.ID), Value: e.Value})
	}
	return ops
}

// Build assembles a T from entries whose ids match T's json field names. Entries that
// do not name a field of T are rejected.
func Build[T any](entries types.Entries) (T, error) {
	var zero T
	ops := FromEntries(entries)
	if err := ValidateOperations(ops, AllJSONPointerPaths[T]()); err != nil {
		return zero, fmt.Errorf("build %T: %w", zero, err)
	}
	return ApplyRFC6902(zero, ops)
}
