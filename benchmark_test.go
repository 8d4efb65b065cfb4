package fiberjobs

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const benchChunk = 1024

func benchScheduler(b *testing.B, opts ...Option) *Scheduler {
	b.Helper()
	opts = append([]Option{WithLockMainThread(false)}, opts...)
	s, err := New(opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// fanOut runs n copies of body from a root task, in chunks that fit a lane,
// waiting on each chunk before submitting the next.
func fanOut(b *testing.B, s *Scheduler, p Priority, n int, body Task) {
	b.Helper()
	err := s.Main(context.Background(), NewTask(func(f *Fiber) {
		tasks := make([]Task, benchChunk)
		for i := range tasks {
			tasks[i] = body
		}
		for n > 0 {
			k := min(n, benchChunk)
			c, err := f.RunBatch(p, tasks[:k]...)
			if err != nil {
				panic(err)
			}
			f.WaitAndRelease(c)
			n -= k
		}
	}))
	if err != nil {
		b.Fatal(err)
	}
}

// ============================================================================
// Throughput Under Different Task Durations
// ============================================================================

func BenchmarkThroughput_Scheduler_Instant(b *testing.B) {
	s := benchScheduler(b)

	b.ResetTimer()
	fanOut(b, s, Mid, b.N, NewLeafTask(func(*Fiber) {}))

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "tasks/sec")
}

func BenchmarkThroughput_Goroutines_Instant(b *testing.B) {
	b.ResetTimer()
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			wg.Done()
		}()
	}
	wg.Wait()

	b.ReportMetric(float64(b.N)/time.Since(start).Seconds(), "tasks/sec")
}

func BenchmarkThroughput_Scheduler_1us(b *testing.B) {
	s := benchScheduler(b)

	b.ResetTimer()
	fanOut(b, s, Mid, b.N, NewLeafTask(func(*Fiber) {
		time.Sleep(time.Microsecond)
	}))

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "tasks/sec")
}

func BenchmarkThroughput_Goroutines_1us(b *testing.B) {
	b.ResetTimer()
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			time.Sleep(time.Microsecond)
			wg.Done()
		}()
	}
	wg.Wait()

	b.ReportMetric(float64(b.N)/time.Since(start).Seconds(), "tasks/sec")
}

// ============================================================================
// Scheduler vs Goroutine CPU Bound tasks
// ============================================================================

func cpuWork() {
	sum := 0
	for i := 0; i < 1000; i++ {
		sum += i
	}
	_ = sum
}

func BenchmarkComparison_Scheduler_CPUBound(b *testing.B) {
	s := benchScheduler(b)

	b.ResetTimer()
	fanOut(b, s, Mid, b.N, NewLeafTask(func(*Fiber) { cpuWork() }))
}

func BenchmarkComparison_Goroutines_CPUBound(b *testing.B) {
	b.ResetTimer()
	var wg sync.WaitGroup
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cpuWork()
		}()
	}
	wg.Wait()
}

// ============================================================================
// Allocations per task
// ============================================================================

func BenchmarkComparison_Scheduler_MemoryAlloc(b *testing.B) {
	s := benchScheduler(b)

	b.ReportAllocs()
	b.ResetTimer()
	fanOut(b, s, Mid, b.N, NewLeafTask(func(*Fiber) {}))
}

func BenchmarkComparison_Goroutines_MemoryAlloc(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()

	var wg sync.WaitGroup
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
		}()
	}
	wg.Wait()
}

// ============================================================================
// Fiber switching
// ============================================================================

// Every task waits on a child, so each iteration costs a park and a resume.
func BenchmarkFiber_ParkResume(b *testing.B) {
	s := benchScheduler(b, WithGeneralFibers(2*benchChunk+1))
	child := NewLeafTask(func(*Fiber) {})

	b.ReportAllocs()
	b.ResetTimer()
	fanOut(b, s, Mid, b.N, NewTask(func(f *Fiber) {
		c, err := f.Run(High, child)
		if err != nil {
			panic(err)
		}
		f.WaitAndRelease(c)
	}))

	st := s.Stats()
	b.ReportMetric(float64(st.FiberParks)/float64(b.N), "parks/op")
}

func BenchmarkFiber_WaitSatisfied(b *testing.B) {
	s := benchScheduler(b, WithNumWorkers(1))
	c := NewCounter(0)

	b.ResetTimer()
	err := s.Main(context.Background(), NewTask(func(f *Fiber) {
		for i := 0; i < b.N; i++ {
			f.Wait(c, 0)
		}
	}))
	if err != nil {
		b.Fatal(err)
	}
}

// ============================================================================
// Counter Benchmarks
// ============================================================================

func BenchmarkCounter_Decrement(b *testing.B) {
	c := NewCounter(int64(b.N))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Decrement(1)
	}
}

func BenchmarkCounter_DecrementParallel(b *testing.B) {
	c := NewCounter(1 << 62)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Decrement(1)
		}
	})
}

// ============================================================================
// Priority Mix
// ============================================================================

func Benchmark_Scheduler_MixedPriorities(b *testing.B) {
	s := benchScheduler(b)
	var low, high atomic.Int64

	b.ResetTimer()
	err := s.Main(context.Background(), NewTask(func(f *Fiber) {
		lowTask := NewLeafTask(func(*Fiber) {
			time.Sleep(10 * time.Microsecond)
			low.Add(1)
		})
		highTask := NewLeafTask(func(*Fiber) { high.Add(1) })

		for n := b.N; n > 0; {
			k := min(n, benchChunk/2)
			tasks := make([]Task, k)
			for i := range tasks {
				tasks[i] = lowTask
			}
			lc, err := f.RunBatch(Low, tasks...)
			if err != nil {
				panic(err)
			}
			for i := range tasks {
				tasks[i] = highTask
			}
			hc, err := f.RunBatch(High, tasks...)
			if err != nil {
				panic(err)
			}
			f.WaitAndRelease(hc)
			f.WaitAndRelease(lc)
			n -= k
		}
	}))
	if err != nil {
		b.Fatal(err)
	}
}

// ============================================================================
// Contention Benchmarks
// ============================================================================

func BenchmarkContention_Scheduler_ExternalSubmitters(b *testing.B) {
	s := benchScheduler(b,
		WithNumWorkers(runtime.GOMAXPROCS(0)),
		WithOverflowStrategy(ReturnError),
	)
	noop := NewLeafTask(func(*Fiber) {})

	var counters sync.Map
	var seq atomic.Int64

	b.ResetTimer()
	b.SetParallelism(16)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c, err := s.Run(Mid, noop)
			if errors.Is(err, ErrQueueFull) {
				runtime.Gosched()
				continue
			}
			if err != nil {
				b.Error(err)
				return
			}
			counters.Store(seq.Add(1), c)
		}
	})

	if err := s.Shutdown(context.Background()); err != nil {
		b.Fatal(err)
	}
	counters.Range(func(_, v any) bool {
		v.(*Counter).Release()
		return true
	})
}

func BenchmarkContention_Goroutines_HighSubmitters(b *testing.B) {
	var wg sync.WaitGroup

	b.ResetTimer()
	b.SetParallelism(16)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			wg.Add(1)
			go func() {
				defer wg.Done()
			}()
		}
	})
	wg.Wait()
}
