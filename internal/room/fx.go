package room

import (
	"github.com/smallbiznis/staybook/internal/room/repository"
	"github.com/smallbiznis/staybook/internal/room/service"
	"go.uber.org/fx"
)

var Module = fx.Module("room.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
