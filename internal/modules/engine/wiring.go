// Package engine hand-assembles the components that would otherwise
// need to import each other in a cycle — risk, orders, positions, exit,
// clock, and expectancy each expose their dependencies as narrow
// interfaces and leave construction to a caller that can see all of
// them at once. This package is that caller: it is the one place
// allowed to import every leaf module, wires their concrete types
// together, and drives the runtime loop that turns an approved
// strategy signal into a submitted order, a tracked position, and
// (eventually) a closed one.
package engine

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/clock"
	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/exit"
	"tradesandbox/internal/modules/expectancy"
	"tradesandbox/internal/modules/history"
	"tradesandbox/internal/modules/orders"
	"tradesandbox/internal/modules/positions"
	"tradesandbox/internal/modules/risk"
	"tradesandbox/pkg/tracing"
)

// clockResyncInterval is not exposed as config since it governs an
// internal housekeeping cadence, not a trading parameter.
const clockResyncInterval = time.Minute

// resyncRateFallback is the per-window limit of the clock's own
// "clock.resync" scope in the shared Governor, a scope separate from
// the global and order scopes.
const resyncRateFallback = 6

func newResolver(cfg *config.Config, store *history.Store, estCfg expectancy.EstimatorConfig) *expectancy.Resolver {
	estimator := expectancy.NewEstimator(estCfg, store)
	return expectancy.NewResolver(cfg.Strategy, map[string]expectancy.Predictor{}, estimator)
}

func newGate(cfg *config.Config, instruments *orders.InstrumentCache, balances *orders.BalanceCache, posEngine *positions.Engine, governor *risk.Governor, killSwitch *risk.KillSwitch) *risk.Gate {
	return risk.NewGate(instruments, balances, posEngine, posEngine, governor, killSwitch, cfg)
}

func newManager(client *orders.RESTClient, clk *clock.Clock) *orders.Manager {
	resync := func(ctx context.Context) error {
		ms, err := client.ServerTime(ctx)
		if err != nil {
			return err
		}
		clk.Resync(ms, time.Now())
		return nil
	}
	return orders.NewManager(client, resync)
}

func newPositionsEngine(client *orders.RESTClient, resolver *expectancy.Resolver, cfg *config.Config) *positions.Engine {
	return positions.NewEngine(client, resolver, cfg)
}

func newOrchestrator(manager *orders.Manager, client *orders.RESTClient, cfg *config.Config) *exit.Orchestrator {
	return exit.NewOrchestrator(manager, client, cfg)
}

func newResyncLoop(clk *clock.Clock, client *orders.RESTClient, governor *risk.Governor, cfg *config.Config) *clock.ResyncLoop {
	reserve := func(scope string) bool {
		return governor.Reserve(models.RateScope(scope), resyncRateFallback, time.Duration(cfg.Rate.WindowSeconds)*time.Second, time.Now())
	}
	return clock.NewResyncLoop(clk, client.ServerTime, reserve, clockResyncInterval)
}

// tracerShutdown flushes and closes the tracer's reporter; named so fx
// doesn't confuse it with some other bare func() in the graph.
type tracerShutdown func()

// newTracer dials the Jaeger agent named by TracingConfig. An empty Host
// (the default) means tracing wasn't configured, so a no-op tracer is
// used instead of dialing localhost blind.
func newTracer(cfg *config.Config) (opentracing.Tracer, tracerShutdown, error) {
	if cfg.Tracing.Host == "" {
		return opentracing.NoopTracer{}, tracerShutdown(func() {}), nil
	}
	tracing.SetServiceName("tradesandbox-engine")
	tracer, closer, err := tracing.InitTracer(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
	if err != nil {
		return nil, nil, err
	}
	return tracer, tracerShutdown(closer), nil
}
