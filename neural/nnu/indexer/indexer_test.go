package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexerFirstSeenOrder(t *testing.T) {
	ix := Build(0, "joy", "fear", "joy", "anger", "fear")

	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, []string{"joy", "fear", "anger"}, ix.Items())

	for i, want := range []string{"joy", "fear", "anger"} {
		idx, ok := ix.Index(want)
		require.True(t, ok)
		assert.Equal(t, i, idx)

		item, ok := ix.Item(idx)
		require.True(t, ok)
		assert.Equal(t, want, item)
	}
}

func TestIndexerOffset(t *testing.T) {
	ix := New[string](1)
	assert.Equal(t, 1, ix.Add("a"))
	assert.Equal(t, 2, ix.Add("b"))
	assert.Equal(t, 1, ix.Add("a"))

	_, ok := ix.Item(0)
	assert.False(t, ok)
	_, ok = ix.Item(3)
	assert.False(t, ok)

	item, ok := ix.Item(2)
	require.True(t, ok)
	assert.Equal(t, "b", item)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, ix.Mapping())
}

func TestIndexerDeterministic(t *testing.T) {
	input := []int{5, 3, 5, 9, 1, 3}
	a := Build(0, input...)
	b := Build(0, input...)
	assert.Equal(t, a.Items(), b.Items())
	assert.Equal(t, a.Mapping(), b.Mapping())
}

func TestIndexerItemsIsCopy(t *testing.T) {
	ix := Build(0, "x", "y")
	items := ix.Items()
	items[0] = "changed"

	item, _ := ix.Item(0)
	assert.Equal(t, "x", item)
}

func TestIndexerUnknown(t *testing.T) {
	ix := Build(0, "x")
	_, ok := ix.Index("missing")
	assert.False(t, ok)
}
