package reconcile

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameMap(a, b map[string]any) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestMergeInPlace_PreservesNestedIdentity(t *testing.T) {
	style := map[string]any{"color": "red", "bold": true}
	meta := map[string]any{"style": style, "labels": []any{"a"}}
	dst := map[string]any{"meta": meta, "title": "old"}

	src := map[string]any{
		"title": "new",
		"meta": map[string]any{
			"style":  map[string]any{"color": "blue"},
			"labels": []any{"b", "c"},
		},
	}
	require.NoError(t, MergeInPlace(src, dst))

	assert.Equal(t, "new", dst["title"])
	assert.True(t, sameMap(meta, dst["meta"].(map[string]any)), "meta replaced")
	assert.True(t, sameMap(style, meta["style"].(map[string]any)), "style replaced")
	assert.Equal(t, "blue", style["color"])
	assert.Equal(t, true, style["bold"], "fields absent from src survive")
	assert.Equal(t, []any{"b", "c"}, meta["labels"])
}

func TestMergeInPlace_AllocatesMissingObjects(t *testing.T) {
	dst := map[string]any{"meta": "scalar", "list": []any{1}}
	src := map[string]any{
		"meta": map[string]any{"a": 1},
		"list": map[string]any{"b": 2},
		"new":  map[string]any{"deep": map[string]any{"x": "y"}},
	}
	require.NoError(t, MergeInPlace(src, dst))

	assert.Equal(t, map[string]any{"a": 1}, dst["meta"])
	assert.Equal(t, map[string]any{"b": 2}, dst["list"])
	deep := dst["new"].(map[string]any)["deep"].(map[string]any)
	assert.Equal(t, "y", deep["x"])

	// The destination owns its own copy of src's objects.
	assert.False(t, sameMap(src["new"].(map[string]any), dst["new"].(map[string]any)))
}

func TestMergeInPlace_RejectsScalarOverObject(t *testing.T) {
	dst := map[string]any{
		"title": "keep",
		"meta":  map[string]any{"style": map[string]any{"color": "red"}},
	}
	src := map[string]any{
		"title": "changed",
		"meta":  map[string]any{"style": []any{"oops"}},
	}
	err := MergeInPlace(src, dst)
	require.ErrorIs(t, err, ErrShapeMismatch)
	assert.Contains(t, err.Error(), "meta.style")
	assert.Equal(t, "keep", dst["title"], "rejected merge must not write")

	err = MergeInPlace(map[string]any{"meta": nil}, dst)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestMergeInPlace_NilMaps(t *testing.T) {
	assert.ErrorIs(t, MergeInPlace(nil, map[string]any{}), ErrShapeMismatch)
	assert.ErrorIs(t, MergeInPlace(map[string]any{}, nil), ErrShapeMismatch)
}

func TestMergeInPlace_NilNestedMapIsMissing(t *testing.T) {
	dst := map[string]any{"meta": map[string]any(nil), "other": map[string]any(nil)}
	src := map[string]any{
		"meta":  map[string]any{"color": "red"},
		"other": "flat",
	}
	require.NoError(t, MergeInPlace(src, dst))
	assert.Equal(t, map[string]any{"color": "red"}, dst["meta"])
	assert.Equal(t, "flat", dst["other"])
}
