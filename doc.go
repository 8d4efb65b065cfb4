// Package fiberjobs provides a cooperative job scheduler built on fibers.
//
// A fixed set of workers runs many more tasks than there are workers. Every
// task runs on a pooled fiber, and a task may suspend on a Counter until
// other tasks finish. Suspending never blocks the worker: it switches to
// other work and the waiting task continues later, possibly on another
// worker.
//
// # Key Features
//
//   - Three priority lanes (High, Mid, Low), drained strictly in that order
//   - Lock-free MPMC lanes and lock-free counter wake-ups
//   - Leaf and general fiber pools with separate stack hints
//   - Main-thread tasks, run on the goroutine that calls Main
//   - Work stealing of woken fibers between workers
//   - Panic recovery, structured logging and statistics
//
// # Quick Start
//
// Build a scheduler, then hand the calling goroutine to it with Main:
//
//	s, err := fiberjobs.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Shutdown(context.Background())
//
//	err = s.Main(ctx, fiberjobs.NewTask(func(f *fiberjobs.Fiber) {
//	    tasks := make([]fiberjobs.Task, 100)
//	    for i := range tasks {
//	        tasks[i] = fiberjobs.MustMakeTask(func(_ *fiberjobs.Fiber, n int) {
//	            process(n)
//	        }, i).AsLeaf()
//	    }
//	    c, err := f.RunBatch(fiberjobs.Mid, tasks...)
//	    if err != nil {
//	        return
//	    }
//	    f.WaitAndRelease(c) // the worker runs the batch meanwhile
//	}))
//
// Tasks can also be submitted from any goroutine with Run and RunBatch.
// Waiting is only possible from inside a task, through its Fiber.
//
// # Fibers
//
// Leaf tasks (NewLeafTask, Task.AsLeaf) promise never to wait and run on the
// leaf pool. General tasks may wait and run on the general pool. Both pools
// have a fixed size. When no fiber of the right class is free, a worker holds
// the task and retries; if every general fiber waits on tasks that cannot get
// a fiber, the scheduler makes no progress, so size GeneralFibers for the
// deepest chain of waiting tasks.
//
// # Overflow Strategies
//
// Block (default): a submitter that finds a lane full yields and retries
// until a slot frees up. Use for backpressure.
//
// ReturnError: the submission fails with ErrQueueFull. For a batch, tasks
// enqueued before the lane filled still run and are tracked by the returned
// counter:
//
//	c, err := s.RunBatch(fiberjobs.Low, tasks...)
//	if errors.Is(err, fiberjobs.ErrQueueFull) {
//	    // resubmit the rest later
//	}
//
// # Shutdown
//
// Shutdown stops accepting external submissions and waits for all queued and
// suspended tasks to finish before stopping the workers:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	if err := s.Shutdown(ctx); err != nil {
//	    log.Printf("work abandoned: %v", err)
//	}
//
// # Thread Safety
//
// All exported Scheduler and Counter methods are safe for concurrent use.
// Fiber methods are only valid from the task the fiber was handed to.
package fiberjobs
