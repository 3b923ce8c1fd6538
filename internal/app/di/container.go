// Package di wires the configured components into one Container shared by
// the CLI, HTTP and MCP adapters.
package di

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"specpilot/internal/agent"
	"specpilot/internal/agent/ports"
	"specpilot/internal/cache"
	"specpilot/internal/config"
	ctxmgr "specpilot/internal/context"
	"specpilot/internal/invoker"
	"specpilot/internal/observability"
	"specpilot/internal/router"
	"specpilot/internal/shared/errors"
	"specpilot/internal/shared/logging"
)

// Container holds all application dependencies.
type Container struct {
	Config   config.Config
	Router   *router.StageRouter
	Store    ports.SessionStore
	Runtime  *agent.Runtime
	LLM      ports.LLMClient
	Invoker  *invoker.Invoker
	Breakers *errors.BreakerRegistry
	// Cache is nil when caching is disabled.
	Cache    *cache.Cache[string]
	Keys     cache.KeyBuilder
	Context  *ctxmgr.Manager
	Metrics  *observability.MetricsCollector
	Registry *prometheus.Registry
	Tracing  *observability.TracerProvider

	logger       logging.Logger
	shutdownOnce sync.Once
	shutdownErr  error
}

// Shutdown persists the cache snapshot and releases the store and
// telemetry providers. It is safe to call more than once.
func (c *Container) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx, true)
	})
	return c.shutdownErr
}

func (c *Container) shutdown(ctx context.Context, persist bool) error {
	logger := logging.OrNop(c.logger)
	logger.Info("Shutting down container...")

	var errs []error
	if persist && c.Cache != nil && c.Config.Cache.Snapshot != "" {
		n, err := cache.SaveSnapshot(c.Cache, c.Config.Cache.Snapshot)
		if err != nil {
			errs = append(errs, fmt.Errorf("save cache snapshot: %w", err))
		} else {
			logger.Info("Saved %d cache entries to %s", n, c.Config.Cache.Snapshot)
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	return stderrors.Join(errs...)
}

// CacheStats reports cache effectiveness; the zero value when disabled.
func (c *Container) CacheStats() cache.Stats {
	if c.Cache == nil {
		return cache.Stats{}
	}
	return c.Cache.Stats()
}
