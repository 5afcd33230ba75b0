package engine

import (
	"context"
	"sync/atomic"

	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/log"
)

// Pool holds the engine workers available to this process. Routers are
// assigned round-robin, one per room.
type Pool struct {
	workers []Worker
	next    atomic.Uint64
	logger  *log.Logger
}

func NewPool(urls []string, logger *log.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, errors.New(ErrPoolEmpty, "at least one engine worker URL is required")
	}

	workers := make([]Worker, 0, len(urls))
	for _, u := range urls {
		workers = append(workers, NewWorker(u, logger))
	}
	return &Pool{
		workers: workers,
		logger:  logger,
	}, nil
}

// NewPoolFromWorkers wires a pool from prebuilt workers. Used by tests.
func NewPoolFromWorkers(workers []Worker, logger *log.Logger) (*Pool, error) {
	if len(workers) == 0 {
		return nil, errors.New(ErrPoolEmpty, "at least one engine worker is required")
	}
	return &Pool{
		workers: workers,
		logger:  logger,
	}, nil
}

// Next returns the next worker in round-robin order.
func (p *Pool) Next() Worker {
	n := p.next.Add(1)
	return p.workers[(n-1)%uint64(len(p.workers))]
}

func (p *Pool) Size() int {
	return len(p.workers)
}

// Ping checks every worker; the engine is an external dependency this
// process cannot run without.
func (p *Pool) Ping(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Ping(ctx); err != nil {
			return errors.Wrapf(ErrRequestFailed, err, "worker %s not reachable", w.URL())
		}
		p.logger.Debug("engine worker reachable", log.String("url", w.URL()))
	}
	return nil
}
