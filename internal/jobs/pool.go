package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scorepipe/internal/logging"
)

// Processor executes a job and returns a Result. *Orchestrator satisfies it.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pool dispatches jobs across a fixed set of workers and broadcasts results
// to subscribers.
type Pool struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Result
	nextSubID int
}

// NewPool starts concurrency workers pulling from a bounded queue.
func NewPool(ctx context.Context, concurrency int, logger *slog.Logger, processor Processor) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		processor: processor,
		log:       logger,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		subs:      make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// Submit queues a job. It never blocks; a full queue is an error the caller
// surfaces to the client. Submitting to a stopped pool returns an error,
// so late callers such as watcher settle timers cannot hit a closed queue.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("pool is stopped")
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Stop signals workers to exit and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			logging.LogJobStart(p.log, job.ID, job.UploadPath)

			res := p.processor.Process(ctx, job)
			duration := time.Since(start)

			if res.Error != nil {
				logging.LogJobError(p.log, job.ID, duration, res.Error)
			} else {
				logging.LogJobComplete(p.log, job.ID, duration, map[string]any{
					"musicxml": res.MusicXMLPath,
					"pdf":      res.PDFPath,
				})
			}
			p.broadcast(res)
		}
	}
}

// Subscribe returns a channel of job results and an unsubscribe function.
// Slow subscribers drop results rather than stalling workers.
func (p *Pool) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pool) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- res:
		default:
		}
	}
}
