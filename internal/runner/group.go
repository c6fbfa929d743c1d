// Package runner supervises the long-lived services of the serve command.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
)

type service struct {
	name string
	run  func(ctx context.Context) error
}

type closer struct {
	name  string
	close func() error
}

// Group runs services until ctx is done or one of them fails, then closes
// registered resources in reverse order.
type Group struct {
	logger   *slog.Logger
	services []service
	closers  []closer
}

func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger}
}

// Go registers a service. A service returning nil is considered done and
// does not stop the others.
func (g *Group) Go(name string, run func(ctx context.Context) error) {
	g.services = append(g.services, service{name: name, run: run})
}

// OnClose registers a resource released after every service has returned.
func (g *Group) OnClose(name string, fn func() error) {
	g.closers = append(g.closers, closer{name: name, close: fn})
}

// Run blocks until every service has returned. The first failing service
// cancels the rest. All errors are merged.
func (g *Group) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
	)
	for _, s := range g.services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.logger.Debug("service starting", "service", s.name)
			err := run(ctx, s)
			if err == nil {
				g.logger.Debug("service stopped", "service", s.name)
				return
			}
			g.logger.Error("service failed", "service", s.name, "err", err)
			mu.Lock()
			result = multierror.Append(result, fmt.Errorf("%s: %w", s.name, err))
			mu.Unlock()
			cancel()
		}()
	}
	wg.Wait()

	for i := len(g.closers) - 1; i >= 0; i-- {
		c := g.closers[i]
		if err := c.close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return result.ErrorOrNil()
}

func run(ctx context.Context, s service) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.run(ctx)
}
