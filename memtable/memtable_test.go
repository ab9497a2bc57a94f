package memtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortBuffer_OrderAndLatest(t *testing.T) {
	b := New()
	b.Put(&Entry{Key: []byte("chunk/b"), Seq: 4, Offset: 40})
	b.Put(&Entry{Key: []byte("chunk/a"), Seq: 1, Offset: 10})
	b.Put(&Entry{Key: []byte("chunk/a"), Seq: 7, Offset: 70})
	b.Put(&Entry{Key: []byte("chunk/a"), Seq: 3, Offset: 30})

	var got []string
	require.NoError(t, b.Ascend(func(e *Entry) error {
		got = append(got, fmt.Sprintf("%s@%d", e.Key, e.Seq))
		return nil
	}))
	assert.Equal(t, []string{"chunk/a@7", "chunk/a@3", "chunk/a@1", "chunk/b@4"}, got)

	e, ok := b.Latest([]byte("chunk/a"))
	require.True(t, ok)
	assert.Equal(t, int64(70), e.Offset)

	_, ok = b.Latest([]byte("chunk/"))
	assert.False(t, ok)
	_, ok = b.Latest([]byte("chunk/c"))
	assert.False(t, ok)
	assert.Equal(t, 4, b.Len())
	assert.Positive(t, b.Size())
}

func TestSortBuffer_AscendStopsOnError(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Put(&Entry{Key: []byte{byte(i)}, Seq: uint64(i)})
	}
	stop := fmt.Errorf("stop")
	visited := 0
	err := b.Ascend(func(*Entry) error {
		visited++
		if visited == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, visited)
}
