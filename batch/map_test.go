package batch

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahsin716/fiberjobs"
)

func TestMap(t *testing.T) {
	s := newScheduler(t)
	in := []string{"1", "2", "x", "4"}
	var results []Result[int]
	var err error

	runMain(t, s, func(f *fiberjobs.Fiber) {
		results, err = Map(f, fiberjobs.Mid, in, func(_ *fiberjobs.Fiber, v string) (int, error) {
			return strconv.Atoi(v)
		})
	})

	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, want := range []int{1, 2, 0, 4} {
		assert.Equal(t, i, results[i].Index)
		assert.Equal(t, want, results[i].Value)
	}
	assert.NoError(t, results[0].Err)
	var numErr *strconv.NumError
	assert.True(t, errors.As(results[2].Err, &numErr))
}

func TestMap_Empty(t *testing.T) {
	s := newScheduler(t, fiberjobs.WithNumWorkers(1))
	var results []Result[int]
	var err error

	runMain(t, s, func(f *fiberjobs.Fiber) {
		results, err = Map(f, fiberjobs.Low, []int(nil), func(_ *fiberjobs.Fiber, v int) (int, error) {
			return v, nil
		})
	})

	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestMap_PanicPerElement(t *testing.T) {
	s := newScheduler(t)
	var results []Result[int]

	runMain(t, s, func(f *fiberjobs.Fiber) {
		results, _ = Map(f, fiberjobs.High, []int{1, 0, 2}, func(_ *fiberjobs.Fiber, v int) (int, error) {
			if v == 0 {
				panic("zero")
			}
			return 10 / v, nil
		}, WithLeaf())
	})

	require.Len(t, results, 3)
	assert.Equal(t, 10, results[0].Value)
	assert.Equal(t, 5, results[2].Value)
	var pe *PanicError
	require.True(t, errors.As(results[1].Err, &pe))
	assert.Equal(t, "zero", pe.Value)
}

func TestMap_WaitsInside(t *testing.T) {
	s := newScheduler(t, fiberjobs.WithGeneralFibers(32))
	var results []Result[int]

	runMain(t, s, func(f *fiberjobs.Fiber) {
		results, _ = Map(f, fiberjobs.Mid, []int{1, 2, 3}, func(f *fiberjobs.Fiber, v int) (int, error) {
			squares, err := Map(f, fiberjobs.High, []int{v, v}, func(_ *fiberjobs.Fiber, x int) (int, error) {
				return x * x, nil
			}, WithLeaf())
			if err != nil {
				return 0, err
			}
			return squares[0].Value + squares[1].Value, nil
		})
	})

	require.Len(t, results, 3)
	assert.Equal(t, []int{2, 8, 18}, []int{results[0].Value, results[1].Value, results[2].Value})
}
