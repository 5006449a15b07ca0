package util_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/util"
)

func TestParallel_RunsAll(t *testing.T) {
	inputs := make([]int, 100)
	for i := range inputs {
		inputs[i] = i
	}

	var sum atomic.Int64
	err := util.Parallel(context.Background(), inputs, 4, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4950), sum.Load())
}

func TestParallel_RespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	inputs := make([]int, 50)

	err := util.Parallel(context.Background(), inputs, 3, func(_ context.Context, _ int) error {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		running.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestParallel_FirstErrorCancels(t *testing.T) {
	boom := errors.New("boom")
	inputs := make([]int, 1000)
	for i := range inputs {
		inputs[i] = i
	}

	var started atomic.Int32
	err := util.Parallel(context.Background(), inputs, 2, func(ctx context.Context, n int) error {
		started.Add(1)
		if n == 0 {
			return boom
		}
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, boom)
	assert.Less(t, started.Load(), int32(1000))
}

func TestParallel_CancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := util.Parallel(ctx, []int{1, 2, 3}, 1, func(context.Context, int) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestJSONRoundTrip(t *testing.T) {
	m := fs.NewMemoryFS()
	require.NoError(t, m.MkdirAll("/meta", 0o755))

	type doc struct {
		ID    int64    `json:"id"`
		Items []string `json:"items"`
	}
	in := doc{ID: 7, Items: []string{"b", "a"}}
	require.NoError(t, util.WriteJSON(m, "/meta/7.json", in))

	var out doc
	require.NoError(t, util.ReadJSON(m, "/meta/7.json", &out))
	assert.Equal(t, in, out)

	entries, err := m.ReadDir("/meta")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not linger")
}

func TestSortedKeys(t *testing.T) {
	keys := util.SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3})
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestWriteFileAtomic_Replaces(t *testing.T) {
	mem := fs.NewMemoryFS()
	require.NoError(t, mem.MkdirAll("/d", 0o755))
	require.NoError(t, util.WriteFileAtomic(mem, "/d/config.yaml", []byte("a: 1\n")))
	require.NoError(t, util.WriteFileAtomic(mem, "/d/config.yaml", []byte("a: 2\n")))

	data, err := mem.ReadFile("/d/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "a: 2\n", string(data))

	entries, err := mem.ReadDir("/d")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
