package fiberjobs

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// BASIC FUNCTIONALITY TESTS
// ============================================================================

func intPtrs(n int) []*int {
	out := make([]*int, n)
	for i := range out {
		v := i
		out[i] = &v
	}
	return out
}

func TestChaseLevDeque_PushPop(t *testing.T) {
	d := newChaseLevDeque[int](16)
	v := 7

	d.push(&v)
	assert.Equal(t, int64(1), d.size())

	got := d.pop()
	require.NotNil(t, got)
	assert.Same(t, &v, got)
	assert.True(t, d.isEmpty())
}

func TestChaseLevDeque_Empty(t *testing.T) {
	d := newChaseLevDeque[int](16)
	assert.Nil(t, d.pop())
	assert.Nil(t, d.steal())
}

func TestChaseLevDeque_PushNil(t *testing.T) {
	d := newChaseLevDeque[int](16)
	d.push(nil)
	assert.True(t, d.isEmpty(), "pushing nil should not add to size")
}

func TestChaseLevDeque_Order(t *testing.T) {
	vals := intPtrs(5)

	t.Run("pop is LIFO", func(t *testing.T) {
		d := newChaseLevDeque[int](16)
		for _, v := range vals {
			d.push(v)
		}
		for i := 4; i >= 0; i-- {
			got := d.pop()
			require.NotNil(t, got)
			assert.Equal(t, i, *got)
		}
	})

	t.Run("steal is FIFO", func(t *testing.T) {
		d := newChaseLevDeque[int](16)
		for _, v := range vals {
			d.push(v)
		}
		for i := 0; i < 5; i++ {
			got := d.steal()
			require.NotNil(t, got)
			assert.Equal(t, i, *got)
		}
	})
}

func TestChaseLevDeque_Resize(t *testing.T) {
	d := newChaseLevDeque[int](4)
	assert.Equal(t, int64(minDequeCapacity), d.capacity(), "capacity is raised to the minimum")

	vals := intPtrs(100)
	for _, v := range vals {
		d.push(v)
	}
	assert.Greater(t, d.capacity(), int64(minDequeCapacity))

	for i := 99; i >= 0; i-- {
		got := d.pop()
		require.NotNilf(t, got, "pop after resize at %d", i)
		assert.Equal(t, i, *got)
	}
}

// ============================================================================
// CONCURRENT TESTS - Owner vs Thieves
// ============================================================================

func TestChaseLevDeque_PopAndStealLastElement(t *testing.T) {
	// with one element left, pop and steal race; exactly one wins
	const iterations = 10000

	for iter := 0; iter < iterations; iter++ {
		d := newChaseLevDeque[int](16)
		v := iter
		d.push(&v)

		var popGot, stealGot atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if d.pop() != nil {
				popGot.Store(1)
			}
		}()
		go func() {
			defer wg.Done()
			if d.steal() != nil {
				stealGot.Store(1)
			}
		}()
		wg.Wait()

		total := popGot.Load() + stealGot.Load()
		if total != 1 {
			t.Fatalf("iteration %d: expected exactly 1 winner, got %d (pop:%d, steal:%d)",
				iter, total, popGot.Load(), stealGot.Load())
		}
	}
}

func TestChaseLevDeque_MultipleThieves(t *testing.T) {
	d := newChaseLevDeque[int](16)
	const numItems = 1000
	for _, v := range intPtrs(numItems) {
		d.push(v)
	}

	const numThieves = 4
	var stolen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < numThieves; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !d.isEmpty() {
				if d.steal() != nil {
					stolen.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(numItems), stolen.Load())
	assert.True(t, d.isEmpty())
}

// Each value is taken exactly once across the owner and all thieves.
func TestChaseLevDeque_NoDuplicates(t *testing.T) {
	d := newChaseLevDeque[int](128)
	const numItems = 10000

	taken := make([]atomic.Int32, numItems)
	for _, v := range intPtrs(numItems) {
		d.push(v)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v := d.steal()
				if v == nil {
					if d.isEmpty() {
						return
					}
					runtime.Gosched()
					continue
				}
				taken[*v].Add(1)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			v := d.pop()
			if v == nil {
				if d.isEmpty() {
					return
				}
				continue
			}
			taken[*v].Add(1)
		}
	}()

	wg.Wait()

	for i := range taken {
		if n := taken[i].Load(); n != 1 {
			t.Errorf("value %d taken %d times (expected 1)", i, n)
		}
	}
}

func TestChaseLevDeque_OwnerPushPopThievesSteal(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	d := newChaseLevDeque[int](2)
	duration := time.Second

	var pushed, ownerPopped, stolen atomic.Int64
	stop := make(chan struct{})
	ownerDone := make(chan struct{})
	v := 1

	go func() {
		defer close(ownerDone)
		for {
			select {
			case <-stop:
				return
			default:
				for i := 0; i < 10; i++ {
					d.push(&v)
					pushed.Add(1)
				}
				for i := 0; i < 5; i++ {
					if d.pop() != nil {
						ownerPopped.Add(1)
					}
				}
			}
		}
	}()

	var thieves sync.WaitGroup
	for i := 0; i < 3; i++ {
		thieves.Add(1)
		go func() {
			defer thieves.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if d.steal() != nil {
						stolen.Add(1)
					} else {
						runtime.Gosched()
					}
				}
			}
		}()
	}

	time.Sleep(duration)
	close(stop)
	<-ownerDone
	thieves.Wait()

	for d.pop() != nil {
		ownerPopped.Add(1)
	}

	assert.Equal(t, pushed.Load(), ownerPopped.Load()+stolen.Load())
	t.Logf("pushed %d, owner popped %d, stolen %d", pushed.Load(), ownerPopped.Load(), stolen.Load())
}
