package booking

import (
	"github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/booking/repository"
	"github.com/smallbiznis/staybook/internal/booking/service"
	"github.com/smallbiznis/staybook/internal/booking/statushub"
	"github.com/smallbiznis/staybook/internal/lock"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(repository.Provide),
	fx.Provide(statushub.NewHub),
	fx.Provide(func(h *statushub.Hub) domain.StatusPublisher { return h }),
	fx.Provide(func(l *lock.Locker) service.RoomLocker { return l }),
	fx.Provide(service.New),
)
