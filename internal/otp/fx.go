package otp

import "go.uber.org/fx"

var Module = fx.Module("otp.service",
	fx.Provide(New),
)
