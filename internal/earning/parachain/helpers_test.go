package parachain

import (
	"sync"

	"github.com/mrz1836/harvest/internal/earning"
)

type recorder struct {
	mu    sync.Mutex
	items []*earning.YieldPositionInfo
}

func (r *recorder) add(p *earning.YieldPositionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, p)
}

func (r *recorder) snapshot() []*earning.YieldPositionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*earning.YieldPositionInfo(nil), r.items...)
}

func (r *recorder) len() int {
	return len(r.snapshot())
}
