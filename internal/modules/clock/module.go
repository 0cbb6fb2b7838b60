package clock

import "go.uber.org/fx"

// Module provides the shared Clock. The ResyncLoop is wired up by the
// engine package once the order manager's REST client (the
// ServerTimeFetcher) and the risk module's rate reserver both exist,
// since both live in packages that would otherwise import clock and
// create a cycle.
func Module() fx.Option {
	return fx.Module("clock",
		fx.Provide(New),
	)
}
