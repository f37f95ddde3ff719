package batch

import "go.uber.org/fx"

var Module = fx.Module("batch",
	fx.Provide(Provide),
)
