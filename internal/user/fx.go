package user

import (
	"github.com/smallbiznis/staybook/internal/otp"
	"github.com/smallbiznis/staybook/internal/user/repository"
	"github.com/smallbiznis/staybook/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(o *otp.Service) service.ResetTokens { return o }),
	fx.Provide(service.New),
)
