// Package reconcile merges authoritative attribute trees into the trees
// callers already hold, mutating in place so existing references stay live.
package reconcile

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when src cannot be merged without replacing a
// nested object of dst.
var ErrShapeMismatch = errors.New("merge shape mismatch")

// MergeInPlace copies every field of src into dst.
//
// Scalars are copied, slices replace the destination value wholesale and
// nested maps are merged recursively. When dst has no map (or a nil map) under a key that
// src holds a map for, a fresh map is allocated there. Maps already present
// in dst are never replaced, so a non-map value in src over a map in dst is
// rejected. Nothing is written when the merge is rejected.
func MergeInPlace(src, dst map[string]any) error {
	if src == nil || dst == nil {
		return fmt.Errorf("merge into nil map: %w", ErrShapeMismatch)
	}
	if err := check(src, dst, ""); err != nil {
		return err
	}
	apply(src, dst)
	return nil
}

func check(src, dst map[string]any, path string) error {
	for k, sv := range src {
		dm, ok := dst[k].(map[string]any)
		if !ok || dm == nil {
			continue
		}
		sm, ok := sv.(map[string]any)
		if !ok || sm == nil {
			return fmt.Errorf("field %q: %T over object: %w", join(path, k), sv, ErrShapeMismatch)
		}
		if err := check(sm, dm, join(path, k)); err != nil {
			return err
		}
	}
	return nil
}

func apply(src, dst map[string]any) {
	for k, sv := range src {
		sm, ok := sv.(map[string]any)
		if !ok {
			dst[k] = sv
			continue
		}
		dm, ok := dst[k].(map[string]any)
		if !ok || dm == nil {
			dm = make(map[string]any, len(sm))
			dst[k] = dm
		}
		apply(sm, dm)
	}
}

func join(path, k string) string {
	if path == "" {
		return k
	}
	return path + "." + k
}
