package testexec

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum-optimism/infra/op-testexec/service"
)

const DefaultHistorySize = 32

// runHistory retains the most recent runs for the status endpoints.
type runHistory struct {
	cache *lru.Cache
}

func newRunHistory(size int) (*runHistory, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create run history: %w", err)
	}
	return &runHistory{cache: cache}, nil
}

func (h *runHistory) add(r service.RunRecord) {
	h.cache.Add(r.RunID, r)
}

// Runs returns the retained runs, most recent first.
func (h *runHistory) Runs() []service.RunRecord {
	keys := h.cache.Keys()
	runs := make([]service.RunRecord, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := h.cache.Peek(keys[i]); ok {
			runs = append(runs, v.(service.RunRecord))
		}
	}
	return runs
}

func (h *runHistory) Run(runID string) (service.RunRecord, bool) {
	v, ok := h.cache.Peek(runID)
	if !ok {
		return service.RunRecord{}, false
	}
	return v.(service.RunRecord), true
}
