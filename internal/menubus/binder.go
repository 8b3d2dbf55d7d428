package menubus

import (
	"context"
	"errors"
	"sync"
	"time"

	"wfmenu/internal/logging"
	"wfmenu/internal/metrics"
	"wfmenu/internal/wayfire"
)

// MenuResolver resolves the menu of a view.
type MenuResolver interface {
	Resolve(ctx context.Context, v *wayfire.View) (*Menu, error)
}

// MenuFunc receives resolution results. v is nil when focus left all
// views; m is nil when err is set.
type MenuFunc func(v *wayfire.View, m *Menu, err error)

// Binder turns focus notifications into menu lookups off the session
// goroutine. Only the most recent focus is resolved; a newer notification
// replaces one that has not been picked up yet.
type Binder struct {
	resolver MenuResolver
	timeout  time.Duration
	onMenu   MenuFunc
	logger   *logging.Logger
	metrics  *metrics.Client

	pending chan *wayfire.View
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewBinder creates a binder. Call Start before the session runs.
func NewBinder(r MenuResolver, timeout time.Duration, onMenu MenuFunc, logger *logging.Logger) *Binder {
	if logger == nil {
		logger = logging.Default()
	}
	if onMenu == nil {
		onMenu = func(*wayfire.View, *Menu, error) {}
	}
	return &Binder{
		resolver: r,
		timeout:  timeout,
		onMenu:   onMenu,
		logger:   logger.WithComponent("menubus"),
		pending:  make(chan *wayfire.View, 1),
	}
}

// SetMetrics attaches lookup counters. Call before Start.
func (b *Binder) SetMetrics(m *metrics.Client) {
	b.metrics = m
}

// Start launches the worker. It stops when ctx is done or Stop is called.
func (b *Binder) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop cancels any lookup in flight and waits for the worker.
func (b *Binder) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// FocusChanged implements wayfire.FocusSink. It never blocks. It must be
// called from a single goroutine.
func (b *Binder) FocusChanged(v *wayfire.View) {
	snapshot := v.Clone()
	select {
	case b.pending <- snapshot:
		return
	default:
	}

	// Drop the stale entry and hand over the newer one.
	select {
	case <-b.pending:
	default:
	}
	select {
	case b.pending <- snapshot:
	default:
		b.logger.Debug("dropping focus notification", "view_id", viewID(snapshot))
	}
}

func (b *Binder) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-b.pending:
			b.resolve(ctx, v)
		}
	}
}

func (b *Binder) resolve(ctx context.Context, v *wayfire.View) {
	if v == nil {
		b.onMenu(nil, nil, nil)
		return
	}

	rctx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	m, err := b.resolver.Resolve(rctx, v)
	if err != nil && ctx.Err() != nil {
		return
	}
	b.metrics.ObserveMenuLookup(start, err != nil && !errors.Is(err, ErrNoMenu))
	if err != nil {
		b.logger.Debug("menu lookup failed", "view_id", v.ID, "error", err)
	}
	b.onMenu(v, m, err)
}

func viewID(v *wayfire.View) any {
	if v == nil {
		return "none"
	}
	return v.ID
}
