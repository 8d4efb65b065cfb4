package fiberjobs

import (
	"sync/atomic"
	"time"
)

// Stats contains statistics about scheduler operation. All counters are
// snapshots taken when Stats() is called and may be slightly inconsistent
// during concurrent operations due to lock-free reads.
//
// Example:
//
//	stats := s.Stats()
//	fmt.Printf("completed %d/%d, %d fibers parked\n",
//	    stats.Completed, stats.Submitted, stats.Fibers[1].Parked)
type Stats struct {
	// ID is the scheduler's unique identifier.
	ID string

	// NumWorkers is the number of workers, including the main worker.
	NumWorkers int

	// Submitted is the total number of tasks accepted, including those later
	// rejected because a lane was full.
	Submitted uint64

	// Completed is the total number of tasks that finished, panicked or not.
	Completed uint64

	// Panicked is the number of completed tasks whose body panicked.
	Panicked uint64

	// Rejected is the number of tasks refused with ErrQueueFull, or refused
	// while blocked on a full lane when the scheduler stopped.
	Rejected uint64

	// MainThread is the number of tasks submitted with RunOnMainThread.
	MainThread uint64

	// Pending is the number of tasks submitted and not yet finished, queued,
	// running or waiting.
	Pending int64

	// FiberParks is the number of times a task suspended in Wait.
	FiberParks uint64

	// FiberResumes is the number of times a parked fiber was woken.
	FiberResumes uint64

	// Steals is the number of woken fibers taken from another worker's deque.
	Steals uint64

	// Holds is the number of times a worker had to hold a task because no
	// fiber of its class was free. Sustained growth means the fiber pools are
	// undersized.
	Holds uint64

	// Lanes has one entry per priority and fiber class: High leaf, High
	// general, Mid leaf and so on. Use Lane to look one up.
	Lanes []LaneStats

	// MainLane describes the main-thread lane.
	MainLane LaneStats

	// ReadyDepth is the number of woken fibers waiting for a worker, over the
	// shared queue and every worker deque.
	ReadyDepth int

	// Fibers has one entry per class, Leaf first.
	Fibers []FiberStats

	// WorkerStats contains per-worker statistics, indexed by worker ID.
	WorkerStats []WorkerStats

	// LatencyAvg and LatencyMax measure task execution time, from the first
	// switch into the task to its return, including time parked in Wait.
	LatencyAvg time.Duration
	LatencyMax time.Duration

	// QueueWaitAvg is the average time tasks spent queued before starting.
	QueueWaitAvg time.Duration

	// WaitAvg is the average time a fiber stayed parked in Wait.
	WaitAvg time.Duration
}

// LaneStats describes one task queue.
type LaneStats struct {
	Name string
	// Class is the fiber class the lane feeds, "native" for the main lane.
	Class    string
	Depth    int
	Capacity int
}

// Lane returns the entry of Lanes for priority p and class c.
func (st Stats) Lane(p Priority, c FiberClass) LaneStats {
	return st.Lanes[int(p)*numFiberClasses+int(c)]
}

// FiberStats describes one fiber pool.
type FiberStats struct {
	Class     string
	Total     int
	Busy      int
	Parked    int
	StackSize int
}

// WorkerStats contains statistics for an individual worker.
//
// Example:
//
//	for _, ws := range s.Stats().WorkerStats {
//	    log.Printf("worker %d: %d tasks, %d resumes, %s",
//	        ws.WorkerID, ws.TasksExecuted, ws.FibersResumed, ws.State)
//	}
type WorkerStats struct {
	// WorkerID is the worker index; 0 is the main worker.
	WorkerID int

	// TasksExecuted is the number of task bodies that finished on this worker.
	// A task that waited is counted by the worker that finished it.
	TasksExecuted uint64

	// FibersResumed is the number of woken fibers this worker switched into.
	FibersResumed uint64

	// Stolen is the number of woken fibers taken from other workers.
	Stolen uint64

	// MainThreadTasks is the number of main-thread tasks run (worker 0 only).
	MainThreadTasks uint64

	// ReadyDepth is the number of woken fibers in the worker's deque.
	ReadyDepth int

	// Holding reports whether the worker holds a task waiting for a fiber of
	// either class.
	Holding bool

	// State is one of "RUNNING", "SPINNING", "PARKED", "SHUTDOWN", or
	// "IDLE" for worker 0 while no Main is running.
	State string

	// LastActive is when the worker last switched into a fiber or ran a
	// main-thread task.
	LastActive time.Time
}

// schedulerMetrics tracks scheduler-wide statistics
type schedulerMetrics struct {
	submitted    atomic.Uint64
	completed    atomic.Uint64
	panicked     atomic.Uint64
	rejected     atomic.Uint64
	mainThread   atomic.Uint64
	fiberParks   atomic.Uint64
	fiberResumes atomic.Uint64
	steals       atomic.Uint64
	holds        atomic.Uint64

	// Latency tracking, in microseconds
	latencySum   atomic.Uint64
	latencyCount atomic.Uint64
	latencyMax   atomic.Uint64

	queueWaitSum   atomic.Uint64
	queueWaitCount atomic.Uint64

	waitSum   atomic.Uint64
	waitCount atomic.Uint64
}

// Stats returns a snapshot of scheduler statistics.
//
// Note: Stats are collected without locks, so values may be slightly
// inconsistent during concurrent operations.
func (s *Scheduler) Stats() Stats {
	m := &s.stats

	lanes := make([]LaneStats, 0, numPriorities*numFiberClasses)
	for p := range s.lanes {
		for c, lane := range s.lanes[p] {
			lanes = append(lanes, LaneStats{
				Name:     Priority(p).String(),
				Class:    FiberClass(c).String(),
				Depth:    lane.size(),
				Capacity: lane.capacity(),
			})
		}
	}

	readyDepth := s.ready.size()
	workerStats := make([]WorkerStats, len(s.workers))
	for i, w := range s.workers {
		depth := int(w.ready.size())
		readyDepth += depth
		workerStats[i] = WorkerStats{
			WorkerID:        i,
			TasksExecuted:   w.executed.Load(),
			FibersResumed:   w.resumed.Load(),
			Stolen:          w.stolen.Load(),
			MainThreadTasks: w.mainTasks.Load(),
			ReadyDepth:      depth,
			Holding:         w.heldTasks.Load() > 0,
			State:           w.getState().String(),
			LastActive:      time.Unix(0, w.lastActive.Load()),
		}
	}

	return Stats{
		ID:           s.id,
		NumWorkers:   len(s.workers),
		Submitted:    m.submitted.Load(),
		Completed:    m.completed.Load(),
		Panicked:     m.panicked.Load(),
		Rejected:     m.rejected.Load(),
		MainThread:   m.mainThread.Load(),
		Pending:      s.pending.Load(),
		FiberParks:   m.fiberParks.Load(),
		FiberResumes: m.fiberResumes.Load(),
		Steals:       m.steals.Load(),
		Holds:        m.holds.Load(),
		Lanes:        lanes,
		MainLane: LaneStats{
			Name:     "main",
			Class:    classNative.String(),
			Depth:    s.mainLane.len(),
			Capacity: s.mainLane.capacity(),
		},
		ReadyDepth: readyDepth,
		Fibers: []FiberStats{
			fiberPoolStats(Leaf, s.leaf, s.config.LeafStackSize),
			fiberPoolStats(General, s.general, s.config.GeneralStackSize),
		},
		WorkerStats:  workerStats,
		LatencyAvg:   average(&m.latencySum, &m.latencyCount),
		LatencyMax:   time.Duration(m.latencyMax.Load()) * time.Microsecond,
		QueueWaitAvg: average(&m.queueWaitSum, &m.queueWaitCount),
		WaitAvg:      average(&m.waitSum, &m.waitCount),
	}
}

func fiberPoolStats(class FiberClass, pool []*Fiber, stackSize int) FiberStats {
	st := FiberStats{Class: class.String(), Total: len(pool), StackSize: stackSize}
	for _, f := range pool {
		if f.busy.Load() {
			st.Busy++
		}
		if f.state.Load() == fiberParked {
			st.Parked++
		}
	}
	return st
}

func average(sum, count *atomic.Uint64) time.Duration {
	n := count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(sum.Load()/n) * time.Microsecond
}

// recordLatency records task execution latency
func (s *Scheduler) recordLatency(d time.Duration) {
	micros := uint64(d.Microseconds())

	s.stats.latencySum.Add(micros)
	s.stats.latencyCount.Add(1)

	for {
		current := s.stats.latencyMax.Load()
		if micros <= current {
			break
		}
		if s.stats.latencyMax.CompareAndSwap(current, micros) {
			break
		}
	}
}

func (s *Scheduler) recordQueueWait(d time.Duration) {
	s.stats.queueWaitSum.Add(uint64(d.Microseconds()))
	s.stats.queueWaitCount.Add(1)
}

func (s *Scheduler) recordWait(d time.Duration) {
	s.stats.waitSum.Add(uint64(d.Microseconds()))
	s.stats.waitCount.Add(1)
}
