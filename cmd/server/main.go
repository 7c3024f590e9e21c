package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"agentpass/internal/approval"
	approvalhandler "agentpass/internal/approval/handler"
	httpapi "agentpass/internal/http"
	"agentpass/internal/identity"
	identityhandler "agentpass/internal/identity/handler"
	jwttoken "agentpass/internal/jwt_token"
	"agentpass/internal/mailbox"
	mailboxhandler "agentpass/internal/mailbox/handler"
	"agentpass/internal/messaging"
	messaginghandler "agentpass/internal/messaging/handler"
	"agentpass/internal/notify"
	notifyhandler "agentpass/internal/notify/handler"
	"agentpass/internal/platform/config"
	"agentpass/internal/platform/httpserver"
	"agentpass/internal/platform/logger"
	"agentpass/internal/platform/metrics"
	"agentpass/internal/ratelimit"
	"agentpass/internal/vault"
	vaulthandler "agentpass/internal/vault/handler"
	"agentpass/pkg/platform/circuit"
	"agentpass/pkg/platform/clock"
)

const shutdownTimeout = 15 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal domain packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	notifyMetrics := notify.NewMetrics(reg)
	fanoutOpts := []notify.Option{
		notify.WithLogger(log),
		notify.WithMetrics(notifyMetrics),
		notify.WithTimeout(cfg.Webhook.Timeout),
		notify.WithLogCapacity(cfg.EventLog.Capacity),
	}
	if cfg.Kafka.Enabled() {
		sink, err := notify.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		guarded := notify.NewGuardedSink(sink, circuit.New("kafka"), clock.Real(), notify.DefaultProbeInterval, log)
		fanoutOpts = append(fanoutOpts, notify.WithAuditSink(guarded))
		log.InfoContext(ctx, "mirroring events to kafka", "topic", cfg.Kafka.AuditTopic)
	}
	fanout := notify.New(fanoutOpts...)
	if cfg.Webhook.URL != "" {
		fanout.AddWebhook(webhookFromConfig(cfg.Webhook))
	}
	dispatcher := notify.NewDispatcher(fanout, cfg.EventLog.QueueLength,
		notify.WithDispatcherLogger(log),
		notify.WithDispatcherMetrics(notifyMetrics),
	)

	registry := identity.New(identity.NewKVStore(store.kv),
		identity.WithLogger(log),
		identity.WithPublisher(dispatcher),
		identity.WithMetrics(identity.NewMetrics(reg)),
	)
	credentials := vault.New(store.kv,
		vault.WithLogger(log),
		vault.WithMetrics(vault.NewMetrics(reg)),
	)
	inbox := mailbox.New(store.kv,
		mailbox.WithLogger(log),
		mailbox.WithPublisher(dispatcher),
		mailbox.WithDirectory(registry),
		mailbox.WithMetrics(mailbox.NewMetrics(reg)),
		mailbox.WithPhoneBase(cfg.Mailbox.PhoneBase),
		mailbox.WithDefaultTimeout(cfg.Mailbox.DefaultWait),
	)
	letters := messaging.New(store.kv, registry,
		messaging.WithLogger(log),
		messaging.WithMetrics(messaging.NewMetrics(reg)),
	)
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, jwttoken.DefaultIssuer, jwttoken.DefaultAudience)
	approvals := approval.New(store.approvals, registry,
		approval.WithLogger(log),
		approval.WithPublisher(dispatcher),
		approval.WithMetrics(approval.NewMetrics(reg)),
		approval.WithPublicURL(cfg.PublicURL),
		approval.WithLinkSigner(jwtService),
	)

	limiter := ratelimit.New(store.limits, cfg.RateLimit.Requests, cfg.RateLimit.Window,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimit.NewMetrics(reg)),
	)

	tokens := jwttoken.NewJWTServiceAdapter(jwtService)
	router := httpapi.NewRouter(httpapi.Deps{
		Logger:    log,
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		RateLimit: limiter.Middleware,
		Health:    store.health,
		Handlers: []httpapi.Registrar{
			identityhandler.New(registry, tokens, log, credentials, inbox, letters),
			vaulthandler.New(credentials, registry, log),
			mailboxhandler.New(inbox, registry, cfg.Mailbox.InboundSecret, log),
			messaginghandler.New(letters, tokens, log),
			approvalhandler.New(approvals, tokens, jwtService, log),
			notifyhandler.New(fanout, cfg.AdminToken, log),
		},
	})
	srv := httpserver.New(cfg.Addr, router, mailboxhandler.MaxWait)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := dispatcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.InfoContext(gctx, "starting agentpass", "addr", cfg.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func webhookFromConfig(cfg config.WebhookConfig) notify.WebhookConfig {
	hook := notify.WebhookConfig{URL: cfg.URL, Secret: cfg.Secret}
	for _, e := range cfg.Events {
		hook.Events = append(hook.Events, notify.EventType(e))
	}
	return hook
}
