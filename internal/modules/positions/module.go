package positions

import "go.uber.org/fx"

// Module provides nothing by itself: Engine takes a StopPlacer narrowed
// from orders.RESTClient and an ExpectancyProvider narrowed from
// expectancy.Resolver, both of which are hand-assembled by the engine
// package alongside the other manually wired components that would
// otherwise cycle back through their dependents' packages.
func Module() fx.Option {
	return fx.Module("positions")
}
