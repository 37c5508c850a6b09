package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/engine/presence"
	"github.com/quizrun/quizrun/internal/models"
	"github.com/quizrun/quizrun/internal/notify"
)

// Service is the contest gateway: it holds spectator websockets, relays
// change notifications from the broker to them, and publishes the online
// count from heartbeats.
type Service struct {
	connectionManager *ConnectionManager
	changeConsumer    *notify.Consumer
	tracker           *presence.Tracker
	config            Config
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	ConsumerConfig   notify.ConsumerConfig
	// PresenceInterval is how often the online count is pushed.
	PresenceInterval time.Duration
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	consumerConfig := notify.DefaultConsumerConfig()
	consumerConfig.ConsumerName = "contest-gateway"
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		ConsumerConfig:   consumerConfig,
		PresenceInterval: 10 * time.Second,
	}
}

// NewService creates the gateway service.
func NewService(config Config, tracker *presence.Tracker) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, tracker)

	s := &Service{
		connectionManager: connectionManager,
		tracker:           tracker,
		config:            config,
	}

	changeConsumer, err := notify.NewConsumer(s.onPartitionChanged, config.ConsumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create change consumer: %w", err)
	}
	s.changeConsumer = changeConsumer
	return s, nil
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting contest gateway")

	go s.connectionManager.Start(ctx)
	go func() {
		if err := s.changeConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("change consumer failed")
		}
	}()
	go s.presenceLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("contest gateway shutting down")
	return s.Stop()
}

// Stop shuts the gateway down.
func (s *Service) Stop() error {
	if err := s.changeConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop change consumer")
	}
	log.Info().Msg("contest gateway stopped")
	return nil
}

// RegisterRoutes mounts the websocket endpoint and the stats endpoint.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/ws", s.handleConnection)
	mux.HandleFunc("GET /v1/ws/stats", s.handleStats)
	log.Info().Msg("gateway routes registered")
}

func (s *Service) handleConnection(w http.ResponseWriter, r *http.Request) {
	partition := models.Partition(r.URL.Query().Get("partition"))
	if partition == "" {
		partition = models.PartitionMain
	}
	if !partition.Valid() {
		http.Error(w, "unknown partition", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")

	if err := s.connectionManager.UpgradeConnection(w, r, name, partition); err != nil {
		// Upgrade already wrote the error response.
		log.Error().Err(err).Msg("websocket upgrade failed")
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.connectionManager.GetConnectionStats()
	stats["online"] = s.tracker.Count()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("encode stats")
	}
}

// onPartitionChanged relays a broker notification to that partition's
// spectators. Clients refresh through their own schedulers, so the event
// carries no rows.
func (s *Service) onPartitionChanged(partition models.Partition) {
	s.connectionManager.BroadcastToPartition(partition, &ContestEvent{
		Type:      EventTypeLeaderboardRefreshed,
		Partition: partition,
		Timestamp: time.Now().UTC(),
	})
}

// presenceLoop pushes the online count to every active partition.
func (s *Service) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(presenceCountData{Online: s.tracker.Count()})
			if err != nil {
				log.Error().Err(err).Msg("marshal presence count")
				continue
			}
			for _, partition := range s.connectionManager.ActivePartitions() {
				s.connectionManager.BroadcastToPartition(partition, &ContestEvent{
					Type:      EventTypePresenceCount,
					Partition: partition,
					Timestamp: time.Now().UTC(),
					Data:      data,
				})
			}
		}
	}
}
