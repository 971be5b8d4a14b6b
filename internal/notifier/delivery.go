package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// sendTimeout bounds one adapter call.
const sendTimeout = 10 * time.Second

type job struct {
	alertID string
	msg     tgui.Message
	// fired marks alert deliveries; surfaced details are not reported back.
	fired bool
}

// delivery is the outbound pipeline: a bounded queue drained by a fixed
// worker pool. Workers hand each job to handle, which owns pacing and retries.
type delivery struct {
	mu      sync.RWMutex
	closing bool
	queue   chan job
	pushing sync.WaitGroup

	sup    *rtsup.Supervisor
	handle func(ctx context.Context, j job)
}

func startDelivery(ctx context.Context, workers, size int, log logx.Logger, handle func(context.Context, job)) *delivery {
	d := &delivery{
		queue:  make(chan job, size),
		handle: handle,
		// A failed send is reported per job; it must not cancel the app.
		sup: rtsup.NewSupervisor(ctx, rtsup.WithLogger(log), rtsup.WithCancelOnError(false)),
	}
	for i := range workers {
		d.sup.GoRestart(fmt.Sprintf("worker.%d", i), d.work, rtsup.WithPublishFirstError(true))
	}
	return d
}

// work returns nil once the queue is closed and drained; any other exit is
// treated as a crash and restarted.
func (d *delivery) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.handle(ctx, j)
		}
	}
}

func (d *delivery) push(j job) error {
	d.mu.RLock()
	if d.closing {
		d.mu.RUnlock()
		return ErrStopped
	}
	d.pushing.Add(1)
	d.mu.RUnlock()
	defer d.pushing.Done()

	select {
	case d.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// close stops intake and lets the workers drain what is queued. When ctx
// ends first the workers are cancelled and the rest of the queue is lost.
func (d *delivery) close(ctx context.Context) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.closing = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		d.pushing.Wait()
		close(d.queue)
		_ = d.sup.Wait(context.Background())
		d.sup.Cancel()
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		d.sup.Cancel()
		<-drained
	}
}

// backoff yields exponential retry delays from base up to limit with
// ±30% jitter.
type backoff struct {
	base, limit time.Duration
}

// delay is the pause before retry n (0-based).
func (b backoff) delay(n int) time.Duration {
	d := b.limit
	if n < 30 {
		if exp := b.base << n; exp > 0 && exp < b.limit {
			d = exp
		}
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, b.limit)
}
