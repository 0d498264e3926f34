package containers

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueWrapsAround(t *testing.T) {
	rq := NewRingQueue[int](3)
	assert.True(t, rq.IsEmpty())

	for i := 1; i <= 3; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.True(t, rq.IsFull())
	assert.True(t, errors.Is(rq.Enqueue(4), ErrQueueFull))

	v, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, rq.Enqueue(4))
	assert.Equal(t, 3, rq.Len())

	var got []int
	for !rq.IsEmpty() {
		p, err := rq.Peek()
		require.NoError(t, err)
		v, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, p, v)
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)

	_, err = rq.Dequeue()
	assert.True(t, errors.Is(err, ErrQueueEmpty))
	_, err = rq.Peek()
	assert.True(t, errors.Is(err, ErrQueueEmpty))
}
