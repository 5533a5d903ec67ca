package app

import (
	"context"
	"sync"

	"github.com/ayusman/pinchball/internal/action"
)

// pinchPipeline fans a pinch out to every registered action. Actions may be
// added while tracking runs.
type pinchPipeline struct {
	mu      sync.RWMutex
	actions action.Multi
}

func newPinchPipeline(actions ...action.Action) *pinchPipeline {
	return &pinchPipeline{actions: actions}
}

// Add appends an action.
func (p *pinchPipeline) Add(a action.Action) {
	if a == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
}

// Fire implements action.Action.
func (p *pinchPipeline) Fire(ctx context.Context, evt action.PinchEvent) error {
	p.mu.RLock()
	actions := make(action.Multi, len(p.actions))
	copy(actions, p.actions)
	p.mu.RUnlock()

	return actions.Fire(ctx, evt)
}

// Len returns the number of registered actions.
func (p *pinchPipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.actions)
}
