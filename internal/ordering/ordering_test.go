package ordering

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkorder/internal/position"
)

func item(id, key string) *Item {
	return &Item{ID: id, Position: &Position{Key: position.MustParse(key)}, State: &State{}, Stage: Confirmed}
}

func ids(seq []*Item) []string {
	out := make([]string, len(seq))
	for i, it := range seq {
		out[i] = it.ID
	}
	return out
}

func keys(seq []*Item) []string {
	out := make([]string, len(seq))
	for i, it := range seq {
		out[i] = it.Key().String()
	}
	return out
}

func TestInsertSorted_KeepsOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, dir := range []position.Direction{position.Ascending, position.Descending} {
		var seq []*Item
		seen := map[int64]bool{}
		for i := 0; i < 200; i++ {
			k := rng.Int63n(10_000)
			if seen[k] {
				continue
			}
			seen[k] = true
			before := len(seq)
			var err error
			seq, err = InsertSorted(dir, seq, &Item{ID: position.FromInt(k).String(), Position: &Position{Key: position.FromInt(k)}})
			require.NoError(t, err)
			require.Len(t, seq, before+1)
			require.True(t, IsSorted(dir, seq), "%s: %v", dir, keys(seq))
		}
	}
}

func TestInsertSorted_Positions(t *testing.T) {
	seq := []*Item{item("a", "10"), item("b", "20"), item("c", "30")}
	seq, err := InsertSorted(position.Ascending, seq, item("front", "9.6"))
	require.NoError(t, err)
	seq, err = InsertSorted(position.Ascending, seq, item("mid", "25"))
	require.NoError(t, err)
	seq, err = InsertSorted(position.Ascending, seq, item("back", "30.4"))
	require.NoError(t, err)
	assert.Equal(t, []string{"front", "a", "b", "mid", "c", "back"}, ids(seq))

	desc := []*Item{item("c", "30"), item("b", "20")}
	desc, err = InsertSorted(position.Descending, desc, item("x", "25"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "x", "b"}, ids(desc))
}

func TestInsertSorted_DuplicateLeavesSequenceUnchanged(t *testing.T) {
	seq := []*Item{item("a", "1"), item("x", "2"), item("c", "3")}
	got, err := InsertSorted(position.Ascending, seq, item("x", "0.5"))
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, []string{"a", "x", "c"}, ids(got))
	assert.Equal(t, []string{"1", "2", "3"}, keys(got))
}

func TestSort_StableAndDirectional(t *testing.T) {
	seq := []*Item{item("a", "3"), item("b", "1"), item("c", "2"), item("d", "1")}
	Sort(position.Ascending, seq)
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids(seq))
	Sort(position.Descending, seq)
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids(seq))
	assert.True(t, IsSorted(position.Descending, seq))
	assert.False(t, IsSorted(position.Ascending, seq))
}

func TestFindOutOfOrder_LastElementMovedBefore(t *testing.T) {
	seq := []*Item{item("a", "10"), item("b", "20"), item("c", "5")}
	m, ok := FindOutOfOrder(position.Ascending, seq)
	require.True(t, ok)
	assert.Equal(t, 2, m.Index)
	assert.Equal(t, MovedBefore, m.Direction)
	assert.Equal(t, "c", m.Item.ID)
	require.NotNil(t, m.Prev)
	assert.Equal(t, "20", m.Prev.Key().String())
	assert.Nil(t, m.Next)
}

func TestFindOutOfOrder_Cases(t *testing.T) {
	cases := []struct {
		name  string
		dir   position.Direction
		keys  []string
		found bool
		index int
		move  Movement
	}{
		{"empty", position.Ascending, nil, false, 0, NotMoved},
		{"single", position.Ascending, []string{"1"}, false, 0, NotMoved},
		{"sorted", position.Ascending, []string{"1", "2", "3"}, false, 0, NotMoved},
		{"first moved down", position.Ascending, []string{"30", "10", "20"}, true, 0, MovedAfter},
		{"interior moved", position.Ascending, []string{"10", "20", "40", "30", "50"}, true, 2, MovedAfter},
		{"interior key below prev", position.Ascending, []string{"10", "30", "5", "40"}, true, 2, MovedBefore},
		{"descending sorted", position.Descending, []string{"3", "2", "1"}, false, 0, NotMoved},
		{"descending last", position.Descending, []string{"3", "2", "9"}, true, 2, MovedBefore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq := make([]*Item, len(tc.keys))
			for i, k := range tc.keys {
				seq[i] = item(k, k)
			}
			m, ok := FindOutOfOrder(tc.dir, seq)
			require.Equal(t, tc.found, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.index, m.Index)
			assert.Equal(t, tc.move, m.Direction)
		})
	}
}

func TestResolvePlacement(t *testing.T) {
	a, b, c := item("1", "1"), item("2", "2"), item("3", "3")

	p, err := ResolvePlacement([]*Item{c, a, b}, "3")
	require.NoError(t, err)
	assert.Same(t, a, p.Target)
	assert.Equal(t, Above, p.Relation)

	p, err = ResolvePlacement([]*Item{a, c, b}, "3")
	require.NoError(t, err)
	assert.Same(t, a, p.Target)
	assert.Equal(t, Below, p.Relation)

	p, err = ResolvePlacement([]*Item{a}, "1")
	require.NoError(t, err)
	assert.Equal(t, None, p.Relation)
	assert.Nil(t, p.Target)

	_, err = ResolvePlacement([]*Item{a, b}, "9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeSubsetOrder(t *testing.T) {
	a, b, c, d, e := item("a", "1"), item("b", "2"), item("c", "3"), item("d", "4"), item("e", "5")
	main := []*Item{a, b, c, d, e}
	subset := []*Item{d, b, a}

	got := MergeSubsetOrder(main, subset)
	assert.Equal(t, []string{"d", "b", "a", "c", "e"}, ids(got))
	assert.Equal(t, ids(got), ids(main), "sorted in place")

	got = MergeSubsetOrder([]*Item{a, b}, nil)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestAbsorb_PreservesIdentity(t *testing.T) {
	nested := map[string]any{"color": "red"}
	it := item("x", "1")
	it.Attrs = map[string]any{"style": nested}
	pos, st := it.Position, it.State

	fresh := &Item{
		ID:       "x",
		ParentID: "p",
		Text:     "renamed",
		Position: &Position{Key: position.MustParse("2.5"), Archived: true},
		State:    &State{Checked: true},
		Attrs:    map[string]any{"style": map[string]any{"color": "blue"}, "tags": []any{"t"}},
	}
	require.NoError(t, it.Absorb(fresh))

	assert.Same(t, pos, it.Position)
	assert.Same(t, st, it.State)
	assert.Equal(t, "2.5", pos.Key.String())
	assert.True(t, pos.Archived)
	assert.True(t, st.Checked)
	assert.Equal(t, "renamed", it.Text)
	assert.Equal(t, "p", it.ParentID)
	assert.Equal(t, "blue", nested["color"])
	assert.Equal(t, []any{"t"}, it.Attrs["tags"])
	assert.NotSame(t, fresh.Position, it.Position)
}

func TestAbsorb_Rejects(t *testing.T) {
	it := item("x", "1")
	assert.ErrorIs(t, it.Absorb(item("y", "1")), ErrMergeShapeMismatch)
	assert.ErrorIs(t, it.Absorb(nil), ErrMergeShapeMismatch)

	it.Attrs = map[string]any{"style": map[string]any{}}
	bad := item("x", "9")
	bad.Text = "changed"
	bad.Attrs = map[string]any{"style": "flat"}
	require.ErrorIs(t, it.Absorb(bad), ErrMergeShapeMismatch)
	assert.Equal(t, "1", it.Key().String(), "rejected absorb leaves the item untouched")
	assert.Empty(t, it.Text)
}

func TestStageTransitions(t *testing.T) {
	it := &Item{ID: "x"}
	require.NoError(t, it.Transition(Confirmed))
	require.NoError(t, it.Transition(LocallyMoved))
	require.NoError(t, it.Transition(Stale))
	require.NoError(t, it.Transition(LocallyMoved))
	require.NoError(t, it.Transition(Confirmed))
	assert.ErrorIs(t, it.Transition(Stale), ErrStageTransition)
	require.NoError(t, it.Transition(Deleted))
	assert.ErrorIs(t, it.Transition(Confirmed), ErrStageTransition)
	assert.Equal(t, Deleted, it.Stage)
}

func TestPartitionFlag(t *testing.T) {
	it := item("x", "1")
	assert.False(t, PartitionChecked.Flag(it))
	it.State.Checked = true
	assert.True(t, PartitionChecked.Flag(it))
	assert.False(t, PartitionArchived.Flag(it))
	it.Position.Archived = true
	assert.True(t, PartitionArchived.Flag(it))
	assert.False(t, PartitionChecked.Flag(&Item{ID: "bare"}))
}
