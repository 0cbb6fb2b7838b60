package eventbus

import "go.uber.org/fx"

const defaultSubscriberCapacity = 256

// Module provides the process-wide event Bus.
func Module() fx.Option {
	return fx.Module("eventbus",
		fx.Provide(func() *Bus {
			return New(defaultSubscriberCapacity)
		}),
	)
}
