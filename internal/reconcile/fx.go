package reconcile

import (
	"github.com/smallbiznis/billingops/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(config.NewReconcileConfigHolder),
	fx.Provide(Provide),
)
