/*
dispatcher.go - Background approval dispatcher

PURPOSE:
  Receives approval triggers from planning.Service and turns them into
  approval requests off the request path. A periodic sweep raises requests
  for days that were saved as pending approval but lost their trigger
  (queue full, crash before the worker ran) and resolves requests that the
  current approver set already decides.

DESIGN:
  - RequestApproval never blocks: a full queue drops the trigger and the
    next sweep recovers it from the stored day
  - One worker goroutine drains the queue
  - One ticker goroutine runs the sweep, once immediately on start
  - Stop drains what is already queued before returning

CONFIGURATION:
  - QueueSize:     buffered triggers (default: 256)
  - SweepInterval: how often to sweep (default: 1 minute)
  - Enabled:       whether background goroutines run (default: true)

USAGE:
  d := NewApprovalDispatcher(workflow, log, 256, time.Minute)
  svc.SetNotifier(d)
  d.Start()
  // ... later
  d.Stop()

SEE ALSO:
  - approval/workflow.go: Open and Sweep
  - handlers.go: SweepApprovals endpoint (manual sweep)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/planning"
)

const (
	DefaultQueueSize     = 256
	DefaultSweepInterval = time.Minute

	openTimeout = 10 * time.Second
)

// ApprovalDispatcher implements planning.ApprovalNotifier.
type ApprovalDispatcher struct {
	Workflow      *approval.Workflow
	Log           *slog.Logger
	SweepInterval time.Duration
	Enabled       bool

	queue  chan planning.ApprovalTrigger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewApprovalDispatcher creates a dispatcher. Non-positive sizes fall back
// to the defaults.
func NewApprovalDispatcher(wf *approval.Workflow, log *slog.Logger, queueSize int, sweepInterval time.Duration) *ApprovalDispatcher {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &ApprovalDispatcher{
		Workflow:      wf,
		Log:           log.With(slog.String("component", "approval_dispatcher")),
		SweepInterval: sweepInterval,
		Enabled:       true,
		queue:         make(chan planning.ApprovalTrigger, queueSize),
	}
}

// RequestApproval queues t without blocking.
func (d *ApprovalDispatcher) RequestApproval(_ context.Context, t planning.ApprovalTrigger) {
	select {
	case d.queue <- t:
	default:
		d.Log.Warn("approval queue full, left for sweep",
			slog.String("order_id", string(t.OrderID)),
			slog.String("group_id", string(t.GroupID)),
			slog.String("date", t.Date.String()),
		)
	}
}

// Start begins the worker and the sweep.
func (d *ApprovalDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.Enabled {
		d.Log.Info("disabled, not starting")
		return
	}
	if d.ticker != nil {
		return
	}

	// A stopped dispatcher can be started again, so each run gets its own
	// stop channel.
	d.stop = make(chan struct{})
	d.ticker = time.NewTicker(d.SweepInterval)
	d.wg.Add(2)
	go d.work(d.stop)
	go d.sweepLoop(d.ticker, d.stop)

	d.Log.Info("started", slog.Duration("sweep_interval", d.SweepInterval), slog.Int("queue_size", cap(d.queue)))
}

// Stop halts the sweep, drains the queue and waits for both goroutines.
func (d *ApprovalDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ticker != nil {
		d.ticker.Stop()
		close(d.stop)
		d.wg.Wait()
		d.ticker = nil
		d.Log.Info("stopped")
	}
}

func (d *ApprovalDispatcher) work(stop <-chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case t := <-d.queue:
			d.open(t)
		case <-stop:
			for {
				select {
				case t := <-d.queue:
					d.open(t)
				default:
					return
				}
			}
		}
	}
}

func (d *ApprovalDispatcher) sweepLoop(ticker *time.Ticker, stop <-chan struct{}) {
	defer d.wg.Done()

	// Run immediately on start
	d.RunNow()

	for {
		select {
		case <-ticker.C:
			d.RunNow()
		case <-stop:
			return
		}
	}
}

func (d *ApprovalDispatcher) open(t planning.ApprovalTrigger) {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	req, err := d.Workflow.Open(ctx, t)
	if err != nil {
		d.Log.Error("open approval failed",
			slog.String("order_id", string(t.OrderID)),
			slog.String("date", t.Date.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	d.Log.Debug("approval opened", slog.String("request_id", req.ID), slog.String("reason", string(t.Reason)))
}

// RunNow sweeps synchronously and returns how many requests it resolved.
func (d *ApprovalDispatcher) RunNow() int {
	ctx, cancel := context.WithTimeout(context.Background(), d.SweepInterval)
	defer cancel()

	resolved, err := d.Workflow.Sweep(ctx)
	if err != nil {
		d.Log.Error("sweep failed", slog.String("error", err.Error()))
		return 0
	}
	if resolved > 0 {
		d.Log.Info("sweep resolved requests", slog.Int("resolved", resolved))
	}
	return resolved
}

// Pending is the number of queued triggers.
func (d *ApprovalDispatcher) Pending() int {
	return len(d.queue)
}
