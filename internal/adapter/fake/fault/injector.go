package fault

import (
	"fmt"
	"strings"
	"sync"
)

// Injection points evaluated by the fakes in internal/adapter/fake.
const (
	PointPing       = "driver.ping"
	PointBuild      = "driver.build"
	PointRun        = "driver.run"
	PointInspect    = "driver.inspect"
	PointRetrieve   = "retriever.retrieve"
	PointGenerate   = "generator.generate"
	PointRegenerate = "generator.regenerate"
)

type Hook func(args ...any) error

type pointFault struct {
	onceErrs  []error
	alwaysErr error
	hook      Hook
}

// Injector manages per-point fault injection for fake adapters. It supports
// queued one-shot failures, a persistent failure, and an argument-aware hook.
// A nil *Injector never fails.
type Injector struct {
	mu     sync.Mutex
	points map[string]*pointFault
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*pointFault)}
}

// FailOnce queues err for the next evaluation of point. Repeated calls queue
// failures in order.
func (i *Injector) FailOnce(point string, err error) {
	if i == nil || strings.TrimSpace(point) == "" || err == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	pf := i.ensurePoint(point)
	pf.onceErrs = append(pf.onceErrs, err)
}

// FailAlways injects err on every evaluation of point.
func (i *Injector) FailAlways(point string, err error) {
	if i == nil || strings.TrimSpace(point) == "" || err == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ensurePoint(point).alwaysErr = err
}

// SetHook sets an argument-aware hook for point.
func (i *Injector) SetHook(point string, hook Hook) {
	if i == nil || strings.TrimSpace(point) == "" || hook == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ensurePoint(point).hook = hook
}

// Pending reports how many one-shot failures remain queued for point.
func (i *Injector) Pending(point string) int {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if pf := i.points[point]; pf != nil {
		return len(pf.onceErrs)
	}
	return 0
}

// Reset removes all configured faults.
func (i *Injector) Reset() {
	if i == nil {
		return
	}
	i.mu.Lock()
	i.points = make(map[string]*pointFault)
	i.mu.Unlock()
}

// Eval evaluates whether point should fail for this call. Injected errors are
// wrapped, so errors.Is and errors.As still see the original.
// Precedence: hook -> once -> always.
func (i *Injector) Eval(point string, args ...any) error {
	if i == nil || strings.TrimSpace(point) == "" {
		return nil
	}

	i.mu.Lock()
	pf := i.points[point]
	if pf == nil {
		i.mu.Unlock()
		return nil
	}
	hook := pf.hook
	var onceErr error
	if len(pf.onceErrs) > 0 {
		onceErr = pf.onceErrs[0]
		pf.onceErrs = pf.onceErrs[1:]
	}
	alwaysErr := pf.alwaysErr
	i.mu.Unlock()

	if hook != nil {
		if err := hook(args...); err != nil {
			return fmt.Errorf("fault %s (hook): %w", point, err)
		}
	}
	if onceErr != nil {
		return fmt.Errorf("fault %s (once): %w", point, onceErr)
	}
	if alwaysErr != nil {
		return fmt.Errorf("fault %s (always): %w", point, alwaysErr)
	}
	return nil
}

func (i *Injector) ensurePoint(point string) *pointFault {
	pf, ok := i.points[point]
	if !ok {
		pf = &pointFault{}
		i.points[point] = pf
	}
	return pf
}
