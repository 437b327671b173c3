package scaling

import (
	"context"
	"fmt"
	"sync"
)

// StaticProvider tracks a simulated instance count in memory. It backs the
// daemon's "static" provider mode (no orchestrator attached) and tests.
type StaticProvider struct {
	mu    sync.Mutex
	count int
}

func NewStaticProvider(initial int) *StaticProvider {
	if initial < 0 {
		initial = 0
	}
	return &StaticProvider{count: initial}
}

func (p *StaticProvider) ScaleUp(ctx context.Context, rule ScalingRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return nil
}

func (p *StaticProvider) ScaleDown(ctx context.Context, rule ScalingRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return fmt.Errorf("no instances to remove")
	}
	p.count--
	return nil
}

func (p *StaticProvider) GetInstanceCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, nil
}

var _ Provider = (*StaticProvider)(nil)
