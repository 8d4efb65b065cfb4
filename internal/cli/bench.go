package cli

import (
	"context"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tahsin716/fiberjobs"
)

// benchResult is what one bench run measured.
type benchResult struct {
	Tasks    int
	Elapsed  time.Duration
	Latency  *hdrhistogram.Histogram
	Stats    fiberjobs.Stats
	Priority fiberjobs.Priority
}

func newBenchCmd() *cobra.Command {
	var (
		tasks     int
		producers int
		batchSize int
		priority  string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure submission throughput and queue latency",
		Long: "bench submits no-op tasks from several external producers while a task on the " +
			"main worker waits for all of them, then reports throughput and start latency percentiles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := fiberjobs.ParsePriority(priority)
			if err != nil {
				return errors.Wrap(err, "priority")
			}

			s, err := newScheduler(fiberjobs.WithOverflowStrategy(fiberjobs.Block))
			if err != nil {
				return err
			}
			stop, err := serveMetrics(s)
			if err != nil {
				_ = shutdown(s, time.Second)
				return err
			}
			defer stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := runBench(ctx, s, p, tasks, producers, batchSize)
			if serr := shutdown(s, 5*time.Second); err == nil {
				err = serr
			}
			if err != nil {
				return err
			}

			printBench(cmd, res)
			return nil
		},
	}

	cmd.Flags().IntVar(&tasks, "tasks", 100000, "Number of tasks to run")
	cmd.Flags().IntVar(&producers, "producers", 4, "Number of goroutines submitting tasks")
	cmd.Flags().IntVar(&batchSize, "batch", 256, "Tasks per RunBatch call")
	cmd.Flags().StringVar(&priority, "priority", "mid", "Priority of the submitted tasks (high, mid, low)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Give up after this long")

	return cmd
}

// runBench drives s from the calling goroutine. Producers submit from their
// own goroutines; each task records the time from submission to start.
func runBench(ctx context.Context, s *fiberjobs.Scheduler, p fiberjobs.Priority, n, producers, batchSize int) (*benchResult, error) {
	if n <= 0 || producers <= 0 || batchSize <= 0 {
		return nil, errors.New("tasks, producers and batch must be positive")
	}

	submitted := make([]time.Time, n)
	latency := make([]time.Duration, n)
	total := fiberjobs.NewCounter(int64(n))

	task := func(_ *fiberjobs.Fiber, i int) {
		latency[i] = time.Since(submitted[i])
		total.Decrement(1)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	per := (n + producers - 1) / producers
	for w := 0; w < producers; w++ {
		lo, hi := w*per, min((w+1)*per, n)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			batch := make([]fiberjobs.Task, 0, batchSize)
			for i := lo; i < hi; i += batchSize {
				if err := gctx.Err(); err != nil {
					return err
				}
				batch = batch[:0]
				end := min(i+batchSize, hi)
				now := time.Now()
				for k := i; k < end; k++ {
					submitted[k] = now
					batch = append(batch, fiberjobs.MustMakeTask(task, k).AsLeaf())
				}
				c, err := s.RunBatch(p, batch...)
				if err != nil {
					return errors.Wrapf(err, "submit tasks %d..%d", i, end)
				}
				c.Release()
			}
			return nil
		})
	}

	err := s.Main(ctx, fiberjobs.NewTask(func(f *fiberjobs.Fiber) {
		f.Wait(total, 0)
	}))
	elapsed := time.Since(start)
	if err != nil {
		// producers blocked on a full lane only return once the scheduler stops
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.Shutdown(sctx)
		cancel()
		_ = g.Wait()
		return nil, errors.Wrap(err, "main")
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	h := hdrhistogram.New(1, int64(time.Minute), 3)
	for _, d := range latency {
		_ = h.RecordValue(max(int64(d), 1))
	}

	return &benchResult{
		Tasks:    n,
		Elapsed:  elapsed,
		Latency:  h,
		Stats:    s.Stats(),
		Priority: p,
	}, nil
}

func printBench(cmd *cobra.Command, res *benchResult) {
	w := cmd.OutOrStdout()
	rate := float64(res.Tasks) / res.Elapsed.Seconds()
	q := func(p float64) time.Duration { return time.Duration(res.Latency.ValueAtQuantile(p)) }

	printf(w, "tasks:       %s at %s priority\n", humanize.Comma(int64(res.Tasks)), res.Priority)
	printf(w, "workers:     %d\n", res.Stats.NumWorkers)
	printf(w, "elapsed:     %s\n", res.Elapsed.Round(time.Microsecond))
	printf(w, "throughput:  %s\n", humanize.SIWithDigits(rate, 2, "tasks/s"))
	printf(w, "latency:     p50 %s  p99 %s  p99.9 %s  max %s\n",
		q(50), q(99), q(99.9), time.Duration(res.Latency.Max()))
	printf(w, "fibers:      %s parks, %s resumes, %s steals, %s holds\n",
		humanize.Comma(int64(res.Stats.FiberParks)),
		humanize.Comma(int64(res.Stats.FiberResumes)),
		humanize.Comma(int64(res.Stats.Steals)),
		humanize.Comma(int64(res.Stats.Holds)))
}
