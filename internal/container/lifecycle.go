package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/elifgo/elif/internal/errs"
	"github.com/elifgo/elif/internal/lifetime"
)

// Init eagerly builds every singleton that declares init hooks. Bindings
// are processed in dependency levels; bindings on the same level are built
// concurrently.
func (c *Container) Init(ctx context.Context) error {
	levels, err := DependencyGraph(c.table).Levels()
	if err != nil {
		return errs.New(errs.CodeInitFailed, "cannot order init hooks", err)
	}

	eager := make(map[string]*Binding)
	for _, b := range c.table.order {
		if b.Lifetime == lifetime.Singleton && len(b.OnInit) > 0 {
			eager[b.Key.String()] = b
		}
	}
	if len(eager) == 0 {
		return nil
	}

	for level, group := range levels {
		var (
			mu     sync.Mutex
			result error
			wg     sync.WaitGroup
		)

		for _, id := range group {
			b, ok := eager[id]
			if !ok {
				continue
			}

			wg.Add(1)
			go func(b *Binding) {
				defer wg.Done()

				start := time.Now()
				_, err := c.ResolveFrom(ctx, b.Key, "")
				c.callInitHooks(b.Key, time.Since(start), err)

				if err != nil {
					mu.Lock()
					result = multierr.Append(result, err)
					mu.Unlock()
				}
			}(b)
		}

		wg.Wait()
		if result != nil {
			return errs.New(errs.CodeInitFailed, fmt.Sprintf("init level %d failed", level), result)
		}
	}

	return nil
}

// Shutdown disposes singletons in reverse construction order. Errors from
// individual hooks are collected and do not stop the remaining disposals.
func (c *Container) Shutdown(ctx context.Context) error {
	if !c.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	c.builtMu.Lock()
	instances := c.built
	c.built = nil
	c.builtMu.Unlock()

	var result error
	for i := len(instances) - 1; i >= 0; i-- {
		item := instances[i]
		if len(item.binding.OnShutdown) == 0 {
			continue
		}

		start := time.Now()
		err := c.dispose(ctx, item)
		c.callShutdownHooks(item.binding.Key, time.Since(start), err)
		result = multierr.Append(result, err)
	}

	c.logger.Debug("container shut down", zap.Int("disposed", len(instances)))

	if result != nil {
		return errs.New(errs.CodeShutdownFailed, "singleton disposal failed", result)
	}
	return nil
}

func (c *Container) callInitHooks(key Key, duration time.Duration, err error) {
	for _, hook := range c.hooks.OnInit {
		hook(key, duration, err)
	}
}

func (c *Container) callShutdownHooks(key Key, duration time.Duration, err error) {
	for _, hook := range c.hooks.OnShutdown {
		hook(key, duration, err)
	}
}
