package runner

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/infra/op-testexec/aggregator"
	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// UnitRunner runs every case of one collection, serially.
type UnitRunner interface {
	RunUnit(ctx context.Context, c *Collection) types.RunSummary
}

type UnitRunnerFunc func(ctx context.Context, c *Collection) types.RunSummary

func (f UnitRunnerFunc) RunUnit(ctx context.Context, c *Collection) types.RunSummary {
	return f(ctx, c)
}

// Dispatcher runs collections on a bounded worker pool. Collections that
// disable parallelization run one at a time once the pool has drained.
type Dispatcher struct {
	log    log.Logger
	runner UnitRunner
}

func NewDispatcher(runner UnitRunner, logger log.Logger) *Dispatcher {
	if runner == nil {
		panic("runner cannot be nil")
	}
	return &Dispatcher{
		log:    logger.New("component", "dispatcher"),
		runner: runner,
	}
}

// Dispatch runs units and returns their combined summary, with Time set to
// the wall clock duration of the dispatch. maxParallelism of 0 uses the
// number of CPUs and a negative value removes the limit. Cancelling ctx does
// not interrupt a running case; each unit reports its remaining cases as not
// run. A unit runner that panics contributes nothing to the summary and does
// not affect the other units.
func (d *Dispatcher) Dispatch(ctx context.Context, units []*Collection, maxParallelism int) types.RunSummary {
	start := time.Now()
	workers := resolveWorkers(maxParallelism)

	var parallel, serial []*Collection
	for _, u := range units {
		if u == nil {
			continue
		}
		if u.DisableParallelization || workers == 1 {
			serial = append(serial, u)
		} else {
			parallel = append(parallel, u)
		}
	}
	d.log.Debug("Dispatching collections", "parallel", len(parallel), "serial", len(serial), "workers", workers)

	var (
		mu      sync.Mutex
		summary types.RunSummary
	)
	if len(parallel) > 0 {
		p := pool.New()
		if workers > 0 {
			p = p.WithMaxGoroutines(workers)
		}
		for _, u := range parallel {
			p.Go(func() {
				s := d.runUnit(ctx, u)
				mu.Lock()
				summary.Aggregate(s)
				mu.Unlock()
			})
		}
		p.Wait()
	}

	for _, u := range serial {
		summary.Aggregate(d.runUnit(ctx, u))
	}

	summary.Time = time.Since(start)
	return summary
}

func (d *Dispatcher) runUnit(ctx context.Context, u *Collection) types.RunSummary {
	agg := aggregator.New()
	summary := aggregator.RunValue(agg, func() (types.RunSummary, error) {
		return d.runner.RunUnit(ctx, u), nil
	}, types.RunSummary{})
	if agg.HasErrors() {
		d.log.Error("Collection runner failed", "collection", u.DisplayName, "err", agg.ToError())
	}
	return summary
}

func resolveWorkers(maxParallelism int) int {
	switch {
	case maxParallelism == 0:
		return runtime.NumCPU()
	case maxParallelism < 0:
		return types.Unlimited
	default:
		return maxParallelism
	}
}
