package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/engine/presence"
	"github.com/quizrun/quizrun/internal/models"
)

// ConnectionManager manages websocket connections per partition. Main and
// practice spectators never see each other's events.
type ConnectionManager struct {
	partitionConnections map[models.Partition]map[*Connection]bool
	mu                   sync.RWMutex

	upgrader websocket.Upgrader
	tracker  *presence.Tracker
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection is one websocket client.
type Connection struct {
	ID        string
	Name      string
	Partition models.Partition
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	sendMu     sync.Mutex
	sendClosed bool
}

// trySend queues a message unless the connection has been torn down. The
// second return reports whether the connection is still open; a send on a
// closed Send channel would panic the broadcast loop.
func (c *Connection) trySend(message []byte) (sent, open bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false, false
	}
	select {
	case c.Send <- message:
		return true, true
	default:
		return false, true
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage targets every connection of one partition.
type BroadcastMessage struct {
	Partition models.Partition
	Event     *ContestEvent
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a websocket connection manager. Heartbeats
// and disconnects feed the presence tracker.
func NewConnectionManager(config ConnectionConfig, tracker *presence.Tracker) *ConnectionManager {
	return &ConnectionManager{
		partitionConnections: make(map[models.Partition]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		tracker:     tracker,
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket and registers
// the connection under its partition.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, name string, partition models.Partition) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Name:        name,
		Partition:   partition,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)
	cm.tracker.Heartbeat(connection.ID, name)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("name", name).
		Str("partition", string(partition)).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.partitionConnections[conn.Partition] == nil {
		cm.partitionConnections[conn.Partition] = make(map[*Connection]bool)
	}
	cm.partitionConnections[conn.Partition][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("partition", string(conn.Partition)).
		Int("total_connections", len(cm.partitionConnections[conn.Partition])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.partitionConnections[conn.Partition]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			conn.closeSend()
			cm.tracker.Disconnect(conn.ID)

			if len(connections) == 0 {
				delete(cm.partitionConnections, conn.Partition)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("name", conn.Name).
				Str("partition", string(conn.Partition)).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToPartition sends an event to every connection of a partition.
func (cm *ConnectionManager) BroadcastToPartition(partition models.Partition, event *ContestEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Partition: partition, Event: event}:
	default:
		log.Warn().Str("partition", string(partition)).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.partitionConnections[message.Partition]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		sent, open := conn.trySend(eventData)
		if sent || !open {
			continue
		}
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Str("name", conn.Name).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("partition", string(message.Partition)).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// ActivePartitions lists partitions that currently have connections.
func (cm *ConnectionManager) ActivePartitions() []models.Partition {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	partitions := make([]models.Partition, 0, len(cm.partitionConnections))
	for partition := range cm.partitionConnections {
		partitions = append(partitions, partition)
	}
	return partitions
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	perPartition := make(map[string]int)
	for partition, connections := range cm.partitionConnections {
		count := len(connections)
		total += count
		perPartition[string(partition)] = count
	}

	return map[string]any{
		"total_connections":     total,
		"active_partitions":     len(cm.partitionConnections),
		"partition_connections": perPartition,
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		c.Manager.tracker.Heartbeat(c.ID, c.Name)
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Str("connection_id", c.ID).
			Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case clientMessageHeartbeat:
		if msg.Name != "" {
			c.Name = msg.Name
		}
		c.Manager.tracker.Heartbeat(c.ID, c.Name)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", msg.Type).
			Msg("received client message")
	}
}
