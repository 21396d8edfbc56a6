package orchestrator

import (
	"sync"

	"github.com/sena-run/core/pkg/models"
)

const maxTrackedPipelines = 50

// pipelineRing retains at most maxTrackedPipelines recent pipelines,
// oldest evicted first.
type pipelineRing struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*models.Pipeline
}

func newPipelineRing() *pipelineRing {
	return &pipelineRing{byID: make(map[string]*models.Pipeline)}
}

func (r *pipelineRing) add(p *models.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[p.RequestID] = p
	r.order = append(r.order, p.RequestID)
	if len(r.order) > maxTrackedPipelines {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, evict)
	}
}

func (r *pipelineRing) get(requestID string) (*models.Pipeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[requestID]
	return p, ok
}

func (r *pipelineRing) recent(limit int) []*models.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.order) {
		limit = len(r.order)
	}
	out := make([]*models.Pipeline, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.byID[r.order[i]])
	}
	return out
}
