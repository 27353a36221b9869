package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16})

	assert.Equal(t, int64(n), counter)
}

func TestForBatch(t *testing.T) {
	batch, channels := 4, 8
	var seen [4][8]atomic.Bool

	ForBatch(batch, channels, func(b, c int) {
		seen[b][c].Store(true)
	}, Config{Enabled: true, NumWorkers: 3, MinChunkSize: 1})

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			assert.True(t, seen[b][c].Load(), "missing [%d][%d]", b, c)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	var order []int
	For(10, func(i int) {
		order = append(order, i)
	}, Sequential())

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestFor_SmallChunk(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := cfg.MinChunkSize - 1

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestEach(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	results := make([]string, len(items))

	err := Each(context.Background(), items, 2, func(_ context.Context, i int, item string) error {
		results[i] = item + item
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb", "cc", "dd"}, results)
}

func TestEach_ErrorDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int64

	err := Each(context.Background(), []int{0, 1, 2}, 0, func(ctx context.Context, i int, _ int) error {
		ran.Add(1)
		if i == 0 {
			return boom
		}
		return ctx.Err()
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(3), ran.Load())
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, Sequential())
		}
	})
}
