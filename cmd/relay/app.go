package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"salesops-relay/internal/config"
	"salesops-relay/internal/db"
	"salesops-relay/internal/history"
	"salesops-relay/internal/history/repository"
	"salesops-relay/internal/notify"
	"salesops-relay/internal/telemetry"
	relayotel "salesops-relay/internal/telemetry/otel"
	"salesops-relay/internal/telemetry/producer"
	"salesops-relay/internal/verification/session"
	"salesops-relay/internal/verification/submit"
)

const serviceName = "salesops-relay"

// app holds the collaborators shared by the relay commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *sql.DB
	redis     *redis.Client
	providers *relayotel.Providers
	kafka     producer.Producer
	async     *telemetry.Async
	reporter  *telemetry.Reporter
	recorder  *history.Recorder
	policy    *notify.PolicyFilter
	claims    submit.Claimer
}

// newApp opens the optional backends named in cfg. Postgres, Redis and the OTLP collector are
// only contacted when configured.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		a.recorder = history.NewRecorder(repository.NewPostgresRepository(sqlDB), logger)
	} else {
		a.recorder = history.NewRecorder(nil, logger)
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("redis: ping %s: %w", cfg.RedisAddr, err)
		}
		a.claims = submit.NewRedisClaims(a.redis, cfg.ClaimTTLDuration(), claimOwner())
	} else {
		a.claims = submit.NewMemoryClaims(cfg.ClaimTTLDuration())
	}

	providers, err := relayotel.NewProviders(ctx, relayotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	a.providers = providers

	metrics, err := telemetry.NewMetrics(providers.Meter(telemetry.MeterName))
	if err != nil {
		logger.Warn("telemetry: metrics disabled", zap.Error(err))
	}
	emitters := telemetry.Multi{relayotel.NewEventEmitter(providers.LoggerProvider)}
	if p := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); p != nil {
		a.kafka = p
		emitters = append(emitters, p)
		logger.Info("telemetry: kafka producer enabled", zap.String("topic", p.Topic()))
	}
	a.async = telemetry.NewAsync(emitters, logger)
	a.reporter = telemetry.NewReporter(a.async, metrics)

	policy, err := notify.LoadPolicyFilter(ctx, cfg.NotifyPolicyFile, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.policy = policy
	return a, nil
}

// claimOwner identifies this process in the shared claim store.
func claimOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "relay"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// notifier sends notifications to the log and, through the policy filter, to surface.
func (a *app) notifier(surface notify.Notifier) notify.Notifier {
	return notify.Fanout{
		notify.NewLogNotifier(a.logger),
		notify.Filtered{Filter: a.policy, Next: surface},
	}
}

// submitter returns a Submitter reporting to history and telemetry.
func (a *app) submitter(api submit.API, n notify.Notifier) *submit.Submitter {
	return submit.NewSubmitter(api, submit.Options{
		Timeout:  a.cfg.SubmitTimeoutDuration(),
		Claims:   a.claims,
		Notifier: n,
		Hooks:    []submit.Hook{a.recorder.SubmitHook, a.reporter.SubmitHook},
		Logger:   a.logger,
	})
}

// observers returns the session observers every command installs.
func (a *app) observers() []session.Observer {
	return []session.Observer{a.recorder.Observe, a.reporter.Observe}
}

// close flushes pending writes and releases backends.
func (a *app) close(ctx context.Context) {
	if a.recorder != nil {
		a.recorder.Wait()
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetry.ShutdownDrainDuration)
	defer cancel()
	if err := a.async.Drain(drainCtx); err != nil {
		a.logger.Warn("telemetry: drain timed out", zap.Error(err))
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("telemetry: kafka close", zap.Error(err))
		}
	}
	if a.providers != nil {
		_ = a.providers.Shutdown(drainCtx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}
