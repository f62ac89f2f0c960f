package worker

import (
	"context"
	"sync"
)

// BatchResult summarizes a ProcessBatch call.
type BatchResult struct {
	Batches   int `json:"batches"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Queue adds a transaction id to the set flushed by ProcessBatch.
func (p *Pool) Queue(txID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shut {
		return ErrShutdown
	}

	if p.cfg.QueueSize > 0 && len(p.pending) >= p.cfg.QueueSize {
		return ErrQueueFull
	}

	p.pending = append(p.pending, txID)

	return nil
}

// Pending returns the number of transaction ids waiting for ProcessBatch.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pending)
}

// ProcessBatch drains the queued transaction ids in batches of the
// configured size. Each transaction is processed on its own, so a failing
// item does not affect the rest of its batch. When the workers are running
// the items of a batch are spread across them and the batch completes
// before the next one is taken. Ids not taken before the context is
// cancelled stay queued.
func (p *Pool) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch := p.takeBatch()
		if len(batch) == 0 {
			return res, nil
		}

		p.limiter.Take()

		failed := p.flush(ctx, batch)

		res.Batches++
		res.Processed += len(batch) - failed
		res.Failed += failed

		p.log.Infow("worker: ProcessBatch: flushed", "size", len(batch), "failed", failed)
	}
}

// takeBatch removes up to BatchSize ids from the front of the queue.
func (p *Pool) takeBatch() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := min(len(p.pending), p.cfg.BatchSize)
	batch := append([]string(nil), p.pending[:n]...)
	p.pending = p.pending[n:]

	return batch
}

// flush processes one batch and returns the number of failed items.
func (p *Pool) flush(ctx context.Context, batch []string) int {
	var mu sync.Mutex
	var failed int

	record := func(err error) {
		if err != nil {
			mu.Lock()
			failed++
			mu.Unlock()
		}
	}

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	if !running {
		for _, txID := range batch {
			record(p.Process(ctx, txID))
		}
		return failed
	}

	var wg sync.WaitGroup
	for _, txID := range batch {
		wg.Add(1)
		task := func(tctx context.Context) error {
			defer wg.Done()
			if err := tctx.Err(); err != nil {
				record(err)
				return err
			}
			err := p.Process(ctx, txID)
			record(err)
			return err
		}

		if err := p.AddTask(task); err != nil {
			wg.Done()
			record(err)
		}
	}
	wg.Wait()

	return failed
}
