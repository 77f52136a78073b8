package worker

import (
	"sort"
	"sync"
)

// inflight is the set of video ids currently held by a worker. The same id
// can be held by two workers when it was enqueued twice, so membership is counted.
type inflight struct {
	mu  sync.Mutex
	ids map[string]int
}

func newInflight() *inflight {
	return &inflight{ids: make(map[string]int)}
}

func (f *inflight) add(id string) {
	f.mu.Lock()
	f.ids[id]++
	f.mu.Unlock()
}

func (f *inflight) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids[id] <= 1 {
		delete(f.ids, id)
		return
	}
	f.ids[id]--
}

func (f *inflight) clear() {
	f.mu.Lock()
	f.ids = make(map[string]int)
	f.mu.Unlock()
}

func (f *inflight) snapshot() []string {
	f.mu.Lock()
	out := make([]string, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	f.mu.Unlock()
	sort.Strings(out)
	return out
}
