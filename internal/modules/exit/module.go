package exit

import "go.uber.org/fx"

// Module provides nothing directly: Orchestrator takes a Closer and an
// EmergencyCloser narrowed from orders.RESTClient/orders.Manager, hand-
// assembled by the engine package the same way the other cross-package
// dependencies are.
func Module() fx.Option {
	return fx.Module("exit")
}
