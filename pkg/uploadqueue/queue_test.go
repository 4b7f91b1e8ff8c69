package uploadqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryEnqueueFIFOOrder(t *testing.T) {
	q := New()
	e1, ok := q.TryEnqueue("a")
	require.True(t, ok)
	e2, ok := q.TryEnqueue("b")
	require.True(t, ok)

	assert.Less(t, e1.Seq, e2.Seq)

	head, ok := q.PeekHead()
	require.True(t, ok)
	assert.Equal(t, "a", head.Batch)
}

func TestTryEnqueueRejectsNewestWhenFull(t *testing.T) {
	q := New()
	for i := 0; i < Capacity; i++ {
		_, ok := q.TryEnqueue(i)
		require.True(t, ok)
	}

	_, ok := q.TryEnqueue("overflow")
	assert.False(t, ok)
	assert.Equal(t, Capacity, q.Len())
	assert.Equal(t, uint64(1), q.Rejected())
}

func TestPopHeadRemovesOldest(t *testing.T) {
	q := New()
	q.TryEnqueue("a")
	q.TryEnqueue("b")

	require.True(t, q.PopHead())
	head, ok := q.PeekHead()
	require.True(t, ok)
	assert.Equal(t, "b", head.Batch)
}

func TestPopHeadOnEmptyIsFalse(t *testing.T) {
	q := New()
	assert.False(t, q.PopHead())
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New()
	q.TryEnqueue("a")
	q.PeekHead()
	assert.Equal(t, 1, q.Len())
}
