package invoice

import (
	"github.com/smallbiznis/billingops/internal/enrichment"
	"github.com/smallbiznis/billingops/internal/invoice/actions"
	"github.com/smallbiznis/billingops/internal/invoice/fetch"
	"github.com/smallbiznis/billingops/internal/invoice/repository"
	"github.com/smallbiznis/billingops/internal/invoice/service"
	"github.com/smallbiznis/billingops/internal/providers"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	providers.Module,
	enrichment.Module,
	fx.Provide(repository.Provide),
	fx.Provide(fetch.Provide),
	fx.Provide(service.New),
	fx.Provide(actions.Provide),
)
