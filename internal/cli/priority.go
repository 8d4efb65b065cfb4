package cli

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tahsin716/fiberjobs"
	"github.com/tahsin716/fiberjobs/batch"
)

func newPriorityCmd() *cobra.Command {
	var high int

	cmd := &cobra.Command{
		Use:   "priority",
		Short: "Show that a Low task waits behind High tasks",
		Long: "priority runs on a single worker: a task submits one Low task, then --high High " +
			"tasks, and reports the position at which the Low task started.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newScheduler(fiberjobs.WithNumWorkers(1))
			if err != nil {
				return err
			}

			pos, err := runPriority(cmd.Context(), s, high)
			if serr := shutdown(s, 5*time.Second); err == nil {
				err = serr
			}
			if err != nil {
				return err
			}

			printf(cmd.OutOrStdout(), "low task started at position %d of %d\n", pos, high+1)
			return nil
		},
	}

	cmd.Flags().IntVar(&high, "high", 1000, "Number of High tasks submitted after the Low task")

	return cmd
}

// runPriority returns the zero-based start position of the Low task.
func runPriority(ctx context.Context, s *fiberjobs.Scheduler, high int) (int, error) {
	if high <= 0 {
		return 0, errors.New("high must be positive")
	}
	// a single worker cannot drain a lane while its only task blocks on it
	if c := s.Stats().Lane(fiberjobs.High, fiberjobs.Leaf).Capacity; high > c {
		return 0, errors.Errorf("high must not exceed the lane capacity %d", c)
	}

	var seq atomic.Int64
	lowPos := int64(-1)
	var runErr error

	err := s.Main(ctx, fiberjobs.NewTask(func(f *fiberjobs.Fiber) {
		low, err := f.Run(fiberjobs.Low, fiberjobs.NewLeafTask(func(*fiberjobs.Fiber) {
			lowPos = seq.Add(1) - 1
		}))
		if err != nil {
			runErr = err
			return
		}
		defer f.WaitAndRelease(low)

		b := batch.New(s, fiberjobs.High, batch.WithLeaf())
		for i := 0; i < high; i++ {
			_ = b.Go(func(*fiberjobs.Fiber) error {
				seq.Add(1)
				return nil
			})
		}
		runErr = b.Wait(f)
	}))
	if err != nil {
		return 0, errors.Wrap(err, "main")
	}
	if runErr != nil {
		return 0, errors.Wrap(runErr, "submit")
	}
	return int(lowPos), nil
}
