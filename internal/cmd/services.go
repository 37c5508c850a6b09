package main

import (
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/quizrun/quizrun/internal/authority"
	"github.com/quizrun/quizrun/internal/authority/authhttp"
	"github.com/quizrun/quizrun/internal/engine/presence"
	"github.com/quizrun/quizrun/internal/gateway"
	"github.com/quizrun/quizrun/internal/notify"
	"github.com/quizrun/quizrun/internal/outbox"
)

type Services struct {
	Authority *authority.App
	AuthHTTP  *authhttp.Service
	Gateway   *gateway.Service
	Relay     *outbox.Listener
	Publisher *notify.JetStreamPublisher
}

// setupServices wires the dependency chain: repository, authority app,
// HTTP service, outbox relay and gateway.
func setupServices(pool *pgxpool.Pool, listenerDB *sql.DB, config *Config, natsURL, dsn string) (*Services, error) {
	clock := clockwork.NewRealClock()

	repo := authority.NewPgRepository(pool)
	app := authority.NewApp(repo, clock, authority.Config{
		QuestionCount:     config.Contest.QuestionCount,
		MinSubmitInterval: config.Contest.MinSubmitInterval.Duration,
		AdminSecret:       getEnv("ADMIN_SECRET", ""),
	})

	jsConfig := notify.DefaultJetStreamConfig()
	jsConfig.URL = natsURL
	publisher, err := notify.NewJetStreamPublisher(jsConfig)
	if err != nil {
		return nil, err
	}

	relayConfig := outbox.DefaultListenerConfig()
	relayConfig.DatabaseURL = dsn
	if config.Outbox.FallbackInterval.Duration > 0 {
		relayConfig.FallbackInterval = config.Outbox.FallbackInterval.Duration
	}
	if config.Outbox.BatchSize > 0 {
		relayConfig.BatchSize = config.Outbox.BatchSize
	}
	relay, err := outbox.NewListener(outbox.NewRepository(listenerDB), publisher, relayConfig)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	tracker := presence.NewTracker(clock, 30*time.Second)
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConsumerConfig.URL = natsURL
	if config.Gateway.PresenceInterval.Duration > 0 {
		gatewayConfig.PresenceInterval = config.Gateway.PresenceInterval.Duration
	}
	gatewayService, err := gateway.NewService(gatewayConfig, tracker)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	return &Services{
		Authority: app,
		AuthHTTP:  authhttp.NewService(app),
		Gateway:   gatewayService,
		Relay:     relay,
		Publisher: publisher,
	}, nil
}
