package enrichment

import (
	"github.com/smallbiznis/billingops/internal/cache"
	"go.uber.org/fx"
)

var Module = fx.Module("enrichment",
	fx.Provide(cache.ProvideOwnerCache),
	fx.Provide(Provide),
)
