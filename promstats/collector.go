// Package promstats exposes a scheduler's Stats snapshot as Prometheus
// metrics.
package promstats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tahsin716/fiberjobs"
)

const namespace = "fiberjobs"

// Collector is a prometheus.Collector that takes one Stats snapshot per
// scrape. Every metric carries a "scheduler" label with the scheduler ID.
type Collector struct {
	sched *fiberjobs.Scheduler

	submitted    *prometheus.Desc
	completed    *prometheus.Desc
	panicked     *prometheus.Desc
	rejected     *prometheus.Desc
	pending      *prometheus.Desc
	parks        *prometheus.Desc
	resumes      *prometheus.Desc
	steals       *prometheus.Desc
	holds        *prometheus.Desc
	laneDepth    *prometheus.Desc
	laneCapacity *prometheus.Desc
	readyDepth   *prometheus.Desc
	fibers       *prometheus.Desc
	fibersBusy   *prometheus.Desc
	fibersParked *prometheus.Desc
	workerTasks  *prometheus.Desc
	latencyAvg   *prometheus.Desc
	latencyMax   *prometheus.Desc
	queueWaitAvg *prometheus.Desc
	waitAvg      *prometheus.Desc
}

// NewCollector returns a collector for s.
func NewCollector(s *fiberjobs.Scheduler) *Collector {
	labels := prometheus.Labels{"scheduler": s.ID()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}

	return &Collector{
		sched:        s,
		submitted:    desc("tasks_submitted_total", "Tasks accepted for submission."),
		completed:    desc("tasks_completed_total", "Tasks that finished, panicked or not."),
		panicked:     desc("tasks_panicked_total", "Tasks whose body panicked."),
		rejected:     desc("tasks_rejected_total", "Tasks refused because a lane was full or the scheduler stopped."),
		pending:      desc("tasks_pending", "Tasks submitted and not yet finished."),
		parks:        desc("fiber_parks_total", "Times a task suspended in Wait."),
		resumes:      desc("fiber_resumes_total", "Times a parked fiber was woken."),
		steals:       desc("fiber_steals_total", "Woken fibers taken from another worker."),
		holds:        desc("fiber_holds_total", "Times a worker held a task for lack of a free fiber."),
		laneDepth:    desc("lane_depth", "Tasks queued per lane.", "lane", "class"),
		laneCapacity: desc("lane_capacity", "Capacity per lane.", "lane", "class"),
		readyDepth:   desc("ready_fibers", "Woken fibers waiting for a worker."),
		fibers:       desc("fibers", "Fibers per class.", "class"),
		fibersBusy:   desc("fibers_busy", "Fibers checked out per class.", "class"),
		fibersParked: desc("fibers_parked", "Fibers suspended in Wait per class.", "class"),
		workerTasks:  desc("worker_tasks_executed_total", "Task bodies finished per worker.", "worker"),
		latencyAvg:   desc("task_latency_avg_seconds", "Average task execution time."),
		latencyMax:   desc("task_latency_max_seconds", "Longest task execution time."),
		queueWaitAvg: desc("task_queue_wait_avg_seconds", "Average time tasks spent queued."),
		waitAvg:      desc("fiber_wait_avg_seconds", "Average time a fiber stayed parked."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.submitted, c.completed, c.panicked, c.rejected, c.pending,
		c.parks, c.resumes, c.steals, c.holds,
		c.laneDepth, c.laneCapacity, c.readyDepth,
		c.fibers, c.fibersBusy, c.fibersParked,
		c.workerTasks,
		c.latencyAvg, c.latencyMax, c.queueWaitAvg, c.waitAvg,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.sched.Stats()

	counter := func(d *prometheus.Desc, v uint64, lvs ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), lvs...)
	}
	gauge := func(d *prometheus.Desc, v float64, lvs ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, lvs...)
	}

	counter(c.submitted, st.Submitted)
	counter(c.completed, st.Completed)
	counter(c.panicked, st.Panicked)
	counter(c.rejected, st.Rejected)
	gauge(c.pending, float64(st.Pending))
	counter(c.parks, st.FiberParks)
	counter(c.resumes, st.FiberResumes)
	counter(c.steals, st.Steals)
	counter(c.holds, st.Holds)

	for _, l := range append(st.Lanes, st.MainLane) {
		gauge(c.laneDepth, float64(l.Depth), l.Name, l.Class)
		gauge(c.laneCapacity, float64(l.Capacity), l.Name, l.Class)
	}
	gauge(c.readyDepth, float64(st.ReadyDepth))

	for _, f := range st.Fibers {
		gauge(c.fibers, float64(f.Total), f.Class)
		gauge(c.fibersBusy, float64(f.Busy), f.Class)
		gauge(c.fibersParked, float64(f.Parked), f.Class)
	}

	for _, w := range st.WorkerStats {
		counter(c.workerTasks, w.TasksExecuted, strconv.Itoa(w.WorkerID))
	}

	gauge(c.latencyAvg, st.LatencyAvg.Seconds())
	gauge(c.latencyMax, st.LatencyMax.Seconds())
	gauge(c.queueWaitAvg, st.QueueWaitAvg.Seconds())
	gauge(c.waitAvg, st.WaitAvg.Seconds())
}

var _ prometheus.Collector = (*Collector)(nil)
