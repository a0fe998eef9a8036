package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/returns/internal/domain"
	"github.com/vladislavdragonenkov/returns/internal/mailer"
	"github.com/vladislavdragonenkov/returns/internal/metrics"
	"github.com/vladislavdragonenkov/returns/internal/realtime"
	"github.com/vladislavdragonenkov/returns/internal/service/dispatch"
	"github.com/vladislavdragonenkov/returns/internal/service/eligibility"
	"github.com/vladislavdragonenkov/returns/internal/service/notify"
	"github.com/vladislavdragonenkov/returns/internal/service/ordersync"
	"github.com/vladislavdragonenkov/returns/internal/service/outbox"
	"github.com/vladislavdragonenkov/returns/internal/service/payment"
	"github.com/vladislavdragonenkov/returns/internal/service/returns"
	"github.com/vladislavdragonenkov/returns/internal/service/settlement"
)

// orchestrator — собранный граф сервисов жизненного цикла возвратов.
type orchestrator struct {
	returns    *returns.Service
	orderSync  *ordersync.Service
	notify     *notify.Service
	dispatcher *dispatch.Dispatcher
	events     *outbox.Emitter
	hub        *realtime.Hub
	redis      *realtime.RedisPusher
}

// createOrchestrator связывает репозитории, шлюз возмещений и каналы уведомлений.
// Redis, SMTP и Stripe необязательны: без них используются локальные замены.
func createOrchestrator(cfg Config, deps *runtimeDependencies, m *metrics.ReturnsMetrics, logger *log.Entry) (*orchestrator, error) {
	o := &orchestrator{
		dispatcher: dispatch.New(
			dispatch.WithConcurrency(cfg.DispatchConcurrency),
			dispatch.WithTaskTimeout(cfg.DispatchTaskTimeout),
			dispatch.WithMetrics(m),
			dispatch.WithLogger(logger.WithField("component", "dispatch")),
		),
		events: outbox.NewEmitter(deps.outboxRepo, m, logger.WithField("component", "outbox-emitter")),
		hub: realtime.NewHub(
			realtime.WithHubLogger(logger.WithField("component", "realtime-hub")),
			realtime.WithAllowedOrigins(cfg.AllowedOrigins...),
		),
	}

	var pusher domain.Pusher = o.hub
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		o.redis = realtime.NewRedisPusher(client, o.hub, realtime.WithRedisLogger(logger.WithField("component", "realtime-redis")))
		pusher = o.redis
		logger.WithField("addr", cfg.RedisAddr).Info("realtime push goes through redis")
	}

	email, err := newEmailSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway, err := newPaymentGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	o.notify = notify.NewService(deps.notificationRepo, deps.users,
		notify.WithPusher(pusher),
		notify.WithEmailSender(email),
		notify.WithBaseURL(cfg.PublicBaseURL),
		notify.WithMetrics(m),
		notify.WithLogger(logger.WithField("component", "notify")),
	)

	o.orderSync = ordersync.NewService(deps.orderRepo, deps.walletRepo, o.notify,
		ordersync.WithDispatcher(o.dispatcher),
		ordersync.WithEvents(o.events),
		ordersync.WithMetrics(m),
		ordersync.WithLogger(logger.WithField("component", "ordersync")),
	)

	evaluator := eligibility.NewEvaluator(deps.orderRepo, deps.returnsRepo, deps.products, deps.policies,
		eligibility.WithLogger(logger.WithField("component", "eligibility")))

	settler := settlement.NewService(deps.returnsRepo, deps.refundRepo, deps.orderRepo, deps.walletRepo, gateway,
		settlement.WithGatewayTimeout(cfg.GatewayTimeout),
		settlement.WithEvents(o.events),
		settlement.WithMetrics(m),
		settlement.WithLogger(logger.WithField("component", "settlement")),
	)

	o.returns = returns.NewService(returns.Repositories{
		Returns:  deps.returnsRepo,
		Messages: deps.messageRepo,
		Refunds:  deps.refundRepo,
		Orders:   deps.orderRepo,
		Users:    deps.users,
		Reasons:  deps.reasons,
	}, evaluator, settler, o.notify,
		returns.WithDispatcher(o.dispatcher),
		returns.WithOrderSync(o.orderSync),
		returns.WithEvents(o.events),
		returns.WithMetrics(m),
		returns.WithLogger(logger.WithField("component", "returns")),
	)
	return o, nil
}

// runRealtime слушает Redis до отмены ctx, если он настроен.
func (o *orchestrator) runRealtime(ctx context.Context, logger *log.Entry) {
	if o.redis == nil {
		return
	}
	go func() {
		if err := o.redis.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("redis subscriber stopped")
		}
	}()
}

func newEmailSender(cfg Config, logger *log.Entry) (domain.EmailSender, error) {
	if cfg.SMTPHost == "" {
		logger.Info("smtp is not configured, emails are logged")
		return mailer.NewLogSender(logger.WithField("component", "mailer")), nil
	}
	sender, err := mailer.NewSMTPSender(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger.WithField("component", "mailer"))
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// newPaymentGateway возвращает Stripe за circuit breaker или mock-шлюз для разработки.
func newPaymentGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, error) {
	if cfg.StripeSecretKey == "" {
		logger.Warn("stripe is not configured, using mock payment gateway")
		return payment.NewMockGateway(), nil
	}
	stripeGateway, err := payment.NewStripeGateway(cfg.StripeSecretKey, logger.WithField("component", "stripe-gateway"))
	if err != nil {
		return nil, err
	}
	breaker := payment.NewCircuitBreaker(cfg.GatewayBreakerFailures, cfg.GatewayBreakerReset, logger.WithField("component", "gateway-breaker"))
	return payment.NewBreakerGateway(stripeGateway, breaker), nil
}
