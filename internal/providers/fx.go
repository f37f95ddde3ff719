package providers

import (
	"github.com/smallbiznis/billingops/internal/enrichment"
	"github.com/smallbiznis/billingops/internal/invoice/fetch"
	"github.com/smallbiznis/billingops/internal/providers/dac"
	"github.com/smallbiznis/billingops/internal/providers/siimp"
	"go.uber.org/fx"
)

// Module provides the SIIMP and DAC clients, also bound to the narrow
// interfaces the fetcher and the enrichment merger consume.
var Module = fx.Module("providers",
	fx.Provide(
		fx.Annotate(siimp.Provide, fx.As(fx.Self()), fx.As(new(fetch.Searcher))),
		fx.Annotate(dac.Provide, fx.As(fx.Self()), fx.As(new(enrichment.Legacy))),
	),
)
