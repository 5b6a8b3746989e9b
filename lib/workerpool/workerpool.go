// Package workerpool implements a bounded worker pool with three priority
// classes and a deadline-ordered timer, shared by every component that
// needs to turn a blocking operation into a scheduled job instead of
// running it inline. See spec.md §4.3.
package workerpool

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/thejerf/suture/v4"
)

// Priority is one of three FIFO classes; within a pool, HIGH jobs always
// run ahead of MED, which always run ahead of LOW.
type Priority int

const (
	LOW Priority = iota
	MED
	HIGH

	numPriorities
)

// ErrShutdown is returned by AddJob and Schedule once the pool has been
// told to shut down.
var ErrShutdown = errors.New("workerpool: pool is shut down")

// Job is a unit of work plus a free-routine that runs exactly once: on
// cancellation, on rejection by a shut-down pool, or after Run completes.
type Job struct {
	Run  func(ctx context.Context)
	Free func()
}

func (j Job) run(ctx context.Context) {
	defer j.free()
	j.Run(ctx)
}

func (j Job) free() {
	if j.Free != nil {
		j.Free()
	}
}

// Config mirrors spec.md §4.3's pool attributes. MaxJobsTotal bounds the
// queue; a full queue is treated the same as a shut-down pool for AddJob
// callers (ErrShutdown-shaped backpressure, not a distinct error, since Go
// channels already provide this signal without extra machinery). The pool
// starts MinThreads supervised goroutines and keeps that count fixed;
// MaxThreads, MaxIdleTime and JobsPerThread are accepted for
// spec-compatibility but only MinThreads currently drives worker count —
// Go's goroutines are cheap enough that elastic growth buys little here.
type Config struct {
	MinThreads    int
	MaxThreads    int
	MaxIdleTime   time.Duration
	JobsPerThread int
	MaxJobsTotal  int
}

// DefaultConfig matches the modest defaults a UPnP control point or
// device needs; callers embedding this library in a high-fanout device
// should raise MinThreads.
var DefaultConfig = Config{
	MinThreads:    2,
	MaxThreads:    12,
	MaxIdleTime:   90 * time.Second,
	JobsPerThread: 10,
	MaxJobsTotal:  100,
}

var (
	metricQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "upnpsdk",
		Subsystem: "workerpool",
		Name:      "queue_depth",
	}, []string{"priority"})
	metricActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "upnpsdk",
		Subsystem: "workerpool",
		Name:      "active_workers",
	})
	metricJobsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upnpsdk",
		Subsystem: "workerpool",
		Name:      "jobs_rejected_total",
	})
)

// Pool is a bounded worker pool with three priority FIFO queues. The zero
// value is not usable; use New.
type Pool struct {
	cfg      Config
	queues   [numPriorities]chan Job
	mut      sync.Mutex
	done     chan struct{}
	shutdown bool

	sup *suture.Supervisor

	timer *timerQueue
}

// New creates a Pool governed by cfg and starts its worker goroutines
// under a suture supervisor, so a panicking worker is restarted instead
// of silently killing pool throughput.
func New(cfg Config) *Pool {
	p := &Pool{
		cfg:  cfg,
		done: make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Job, cfg.MaxJobsTotal)
	}
	p.timer = newTimerQueue(p)

	p.sup = suture.New("workerpool", suture.Spec{})
	for i := 0; i < cfg.MinThreads; i++ {
		p.sup.Add(&worker{pool: p})
	}

	return p
}

// Serve runs the pool's supervised workers until ctx is cancelled. Callers
// typically run this in its own goroutine, e.g. via lib/upnpcore.Init.
func (p *Pool) Serve(ctx context.Context) error {
	return p.sup.Serve(ctx)
}

// AddJob enqueues job at the given priority. It returns ErrShutdown
// without enqueueing if the pool has been shut down or the class's queue
// is full.
func (p *Pool) AddJob(job Job, class Priority) error {
	p.mut.Lock()
	if p.shutdown {
		p.mut.Unlock()
		job.free()
		metricJobsRejectedTotal.Inc()
		return ErrShutdown
	}
	p.mut.Unlock()

	select {
	case p.queues[class] <- job:
		metricQueueDepth.WithLabelValues(classLabel(class)).Inc()
		return nil
	default:
		if debug {
			l.Debugln("workerpool: queue full for class", classLabel(class))
		}
		job.free()
		metricJobsRejectedTotal.Inc()
		return ErrShutdown
	}
}

// Shutdown marks the pool as shut down; subsequent AddJob calls are
// rejected. Jobs already queued continue to drain.
func (p *Pool) Shutdown() {
	p.mut.Lock()
	p.shutdown = true
	p.mut.Unlock()
	close(p.done)
	p.timer.cancelAll()
}

func classLabel(p Priority) string {
	switch p {
	case HIGH:
		return "high"
	case MED:
		return "med"
	default:
		return "low"
	}
}

// worker pulls from HIGH, then MED, then LOW, blocking only when all three
// are empty.
type worker struct {
	pool *Pool
}

func (w *worker) Serve(ctx context.Context) error {
	p := w.pool
	metricActiveWorkers.Inc()
	defer metricActiveWorkers.Dec()

	for {
		// Drain HIGH, then MED, ahead of a blocking three-way select, so a
		// steady trickle of HIGH jobs can never be starved by LOW.
		select {
		case job := <-p.queues[HIGH]:
			metricQueueDepth.WithLabelValues("high").Dec()
			job.run(ctx)
			continue
		default:
		}
		select {
		case job := <-p.queues[MED]:
			metricQueueDepth.WithLabelValues("med").Dec()
			job.run(ctx)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return suture.ErrDoNotRestart
		case <-p.done:
			// Keep draining after Shutdown until every queue is empty.
			if len(p.queues[HIGH])+len(p.queues[MED])+len(p.queues[LOW]) == 0 {
				return suture.ErrDoNotRestart
			}
		case job := <-p.queues[HIGH]:
			metricQueueDepth.WithLabelValues("high").Dec()
			job.run(ctx)
		case job := <-p.queues[MED]:
			metricQueueDepth.WithLabelValues("med").Dec()
			job.run(ctx)
		case job := <-p.queues[LOW]:
			metricQueueDepth.WithLabelValues("low").Dec()
			job.run(ctx)
		}
	}
}

// timerQueue is the deadline-ordered heap backing Schedule/Remove.
type timerQueue struct {
	pool *Pool

	mut     sync.Mutex
	items   timerHeap
	seq     uint64
	wake    chan struct{}
	stopped bool
}

// TimerMode selects whether Schedule's delay is relative to now or an
// absolute deadline.
type TimerMode int

const (
	REL TimerMode = iota
	ABS
)

// Handle identifies a scheduled timer job for Remove.
type Handle uint64

type timerItem struct {
	handle   Handle
	deadline time.Time
	job      Job
	class    Priority
	index    int
	cancelled bool
}

type timerHeap []*timerItem

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func newTimerQueue(p *Pool) *timerQueue {
	tq := &timerQueue{pool: p, wake: make(chan struct{}, 1)}
	go tq.run()
	return tq
}

// Schedule arranges for job to be handed to the pool at class when delay
// elapses (mode==REL) or when the wall clock reaches delay-as-a-deadline
// (mode==ABS, where delay is interpreted as a duration since the Unix
// epoch for caller convenience).
func (tq *timerQueue) Schedule(delay time.Duration, mode TimerMode, job Job, class Priority) Handle {
	var deadline time.Time
	if mode == ABS {
		deadline = time.Unix(0, int64(delay))
	} else {
		deadline = time.Now().Add(delay)
	}

	tq.mut.Lock()
	tq.seq++
	item := &timerItem{handle: Handle(tq.seq), deadline: deadline, job: job, class: class}
	heap.Push(&tq.items, item)
	tq.mut.Unlock()

	select {
	case tq.wake <- struct{}{}:
	default:
	}
	return item.handle
}

// Remove cancels the timer identified by h, if it has not already fired,
// and invokes its job's free-routine. It is a no-op if h is unknown or
// already fired.
func (tq *timerQueue) Remove(h Handle) {
	tq.mut.Lock()
	for _, item := range tq.items {
		if item.handle == h && !item.cancelled {
			item.cancelled = true
			tq.mut.Unlock()
			item.job.free()
			return
		}
	}
	tq.mut.Unlock()
}

func (tq *timerQueue) cancelAll() {
	tq.mut.Lock()
	tq.stopped = true
	items := tq.items
	tq.items = nil
	tq.mut.Unlock()

	for _, item := range items {
		if !item.cancelled {
			item.job.free()
		}
	}
}

func (tq *timerQueue) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		tq.mut.Lock()
		if tq.stopped {
			tq.mut.Unlock()
			return
		}
		var next time.Duration = time.Hour
		if len(tq.items) > 0 {
			next = time.Until(tq.items[0].deadline)
		}
		tq.mut.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next < 0 {
			next = 0
		}
		timer.Reset(next)

		select {
		case <-timer.C:
			tq.fireReady()
		case <-tq.wake:
		}
	}
}

func (tq *timerQueue) fireReady() {
	now := time.Now()
	for {
		tq.mut.Lock()
		if tq.stopped || len(tq.items) == 0 || tq.items[0].deadline.After(now) {
			tq.mut.Unlock()
			return
		}
		item := heap.Pop(&tq.items).(*timerItem)
		tq.mut.Unlock()

		if item.cancelled {
			continue
		}
		_ = tq.pool.AddJob(item.job, item.class)
	}
}

// Schedule and Remove exposed on Pool for callers that only hold a *Pool.
func (p *Pool) Schedule(delay time.Duration, mode TimerMode, job Job, class Priority) Handle {
	return p.timer.Schedule(delay, mode, job, class)
}

func (p *Pool) Remove(h Handle) {
	p.timer.Remove(h)
}
