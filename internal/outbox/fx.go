package outbox

import (
	"github.com/smallbiznis/staybook/internal/outbox/repository"
	"github.com/smallbiznis/staybook/internal/outbox/service"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewJobProcessor),
	fx.Provide(service.New),
)
