package payment

import (
	"net/http"
	"time"

	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/payment/adapters"
	"github.com/smallbiznis/staybook/internal/payment/adapters/momo"
	"github.com/smallbiznis/staybook/internal/payment/adapters/zalopay"
	"github.com/smallbiznis/staybook/internal/payment/reconciler"
	"github.com/smallbiznis/staybook/internal/payment/repository"
	paymentservice "github.com/smallbiznis/staybook/internal/payment/service"
	"github.com/smallbiznis/staybook/internal/payment/webhook"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
)

const providerTimeout = 10 * time.Second

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, clk clock.Clock) *adapters.Registry {
		client := &http.Client{
			Timeout:   providerTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		return adapters.NewRegistry(
			zalopay.New(cfg.Payment.ZaloPay, client, clk),
			momo.New(cfg.Payment.MoMo, client),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(reconciler.NewSweeper),
)
