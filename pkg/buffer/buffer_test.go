package buffer

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/metric"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))
	assert.True(t, buf.IsFull())

	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", v)
	assert.Equal(t, 3, buf.Size())

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", v)

	assert.Equal(t, []string{"second", "third"}, buf.ReadBatch(10))
	assert.True(t, buf.IsEmpty())
	assert.Nil(t, buf.ReadBatch(1))

	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestCircularBufferOverflowPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
		dropped  []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer[int](3,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
			)
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}

			assert.Equal(t, tt.expected, buf.ReadBatch(3))
			assert.Equal(t, tt.dropped, dropped)
			assert.Equal(t, int64(2), buf.Stats().Drops())
		})
	}
}

func TestCircularBufferWrapAround(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		require.NoError(t, buf.Write(round*2))
		require.NoError(t, buf.Write(round*2+1))
		assert.Equal(t, []int{round * 2, round*2 + 1}, buf.ReadBatch(2))
	}
}

func TestCircularBufferClear(t *testing.T) {
	var dropped []string
	buf, err := NewCircularBuffer[string](4, WithDropCallback[string](func(s string) {
		dropped = append(dropped, s)
	}))
	require.NoError(t, err)

	require.NoError(t, buf.Write("a"))
	require.NoError(t, buf.Write("b"))
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, []string{"a", "b"}, dropped)
	assert.Equal(t, int64(2), buf.Stats().Drops())

	require.NoError(t, buf.Write("c"))
	assert.Equal(t, []string{"c"}, buf.ReadBatch(4))
}

func TestCircularBufferStatistics(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))
	buf.ReadBatch(1)

	s := buf.Stats().Summary()
	assert.Equal(t, int64(3), s.Writes)
	assert.Equal(t, int64(1), s.Reads)
	assert.Equal(t, int64(1), s.Drops)
	assert.Equal(t, int64(1), s.CurrentSize)
	assert.Equal(t, int64(2), s.MaxSize)
}

func TestCircularBufferClosed(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())

	err = buf.Write(2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	v, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCircularBufferMinimumCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())
}

func TestCircularBufferMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[int](1, WithMetrics[int](registry, "proxy_test"))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	cb := buf.(*circularBuffer[int])
	assert.Equal(t, 2.0, testutil.ToFloat64(cb.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.size))

	// Same prefix is rejected while the first buffer is open
	_, err = NewCircularBuffer[int](1, WithMetrics[int](registry, "proxy_test"))
	assert.Error(t, err)

	require.NoError(t, buf.Close())
	again, err := NewCircularBuffer[int](1, WithMetrics[int](registry, "proxy_test"))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCircularBufferThreadSafety(t *testing.T) {
	buf, err := NewCircularBuffer[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = buf.Write(i)
			}
		}()
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				buf.ReadBatch(8)
			}
		}()
	}
	wg.Wait()

	s := buf.Stats().Summary()
	assert.Equal(t, int64(2000), s.Writes)
	assert.Equal(t, s.Writes, s.Reads+s.Drops+int64(buf.Size()))
}
