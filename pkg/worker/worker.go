package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/outreach-engine/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type WorkerHandler = func(ctx context.Context, workerIndex int, job interface{})

// Pool
// fans jobs out to at most `width` concurrent goroutines and joins them all
// before Run returns. Jobs are started in the order they are submitted; with
// a non-zero pace the pool waits that long between two job starts, which is
// how callers apply backpressure against a downstream throughput limit.
// A panicking job is recovered and logged, it never takes the batch down.
type Pool struct {
	width int
	pace  time.Duration
	do    WorkerHandler
}

func NewPool(width int, pace time.Duration, handler WorkerHandler) *Pool {
	if width <= 0 {
		width = 1
	}
	return &Pool{
		width: width,
		pace:  pace,
		do:    handler,
	}
}

// Run
// blocks until every started job has finished. When ctx is cancelled no new
// jobs are started and the number of jobs actually started is returned with
// the context error.
func (p *Pool) Run(ctx context.Context, jobs []interface{}) (int, error) {
	g := &errgroup.Group{}
	g.SetLimit(p.width)

	started := 0
	var stopErr error
	for i, job := range jobs {
		if i > 0 && p.pace > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.pace):
			}
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}

		index := i
		j := job
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("worker job panic", "worker", index, "panic", rec)
					err = fmt.Errorf("worker %d panic: %v", index, rec)
				}
			}()
			p.do(ctx, index, j)
			return nil
		})
		started++
	}

	// job panics are already logged, the join only waits for completion
	_ = g.Wait()
	return started, stopErr
}
