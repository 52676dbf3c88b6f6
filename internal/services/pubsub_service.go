package services

import (
	"context"
	"encoding/json"
	"log"

	"redline/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionBus fans session events out to local WebSocket connections and,
// when Redis is configured, relays them across instances so watchers
// connected elsewhere see the same timeline. Without Redis it degrades to
// local-only delivery.
type SessionBus struct {
	local      *ConnectionManager
	redis      *RedisService
	metrics    *Metrics
	renderer   *Renderer
	instanceID string

	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
}

// sessionEnvelope is the wire format for relayed session events
type sessionEnvelope struct {
	InstanceID string               `json:"instance_id"`
	SessionID  string               `json:"session_id"`
	Message    models.ServerMessage `json:"message"`
}

// NewSessionBus creates the bus. redisService may be nil.
func NewSessionBus(local *ConnectionManager, redisService *RedisService, renderer *Renderer, metrics *Metrics) *SessionBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionBus{
		local:      local,
		redis:      redisService,
		metrics:    metrics,
		renderer:   renderer,
		instanceID: uuid.New().String(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish delivers a session event locally and relays it to other instances
func (b *SessionBus) Publish(sessionID string, msg models.ServerMessage) {
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	// Finalized assistant messages ship with an HTML preview so clients
	// render consistently. The HTML travels in the relayed envelope too.
	if b.renderer != nil && msg.Type == "entry_done" && msg.MessageType == models.MessageTypeResponse {
		msg.HTML = b.renderer.Render(msg.Content)
	}
	b.local.Publish(sessionID, msg)
	if b.metrics != nil {
		b.metrics.SessionEvents.WithLabelValues(msg.Type).Inc()
		b.countOutcomes(msg)
	}

	if b.redis == nil {
		return
	}
	payload, err := json.Marshal(sessionEnvelope{
		InstanceID: b.instanceID,
		SessionID:  sessionID,
		Message:    msg,
	})
	if err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to marshal session event: %v", err)
		return
	}
	if err := b.redis.Publish(b.ctx, "redline:session:"+sessionID+":events", payload); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to relay session event: %v", err)
	}
}

// countOutcomes derives outcome counters from the event stream so the
// orchestrator stays metrics-agnostic. Only locally originated events pass
// through here; relayed ones were counted on their home instance.
func (b *SessionBus) countOutcomes(msg models.ServerMessage) {
	switch msg.Type {
	case "tool_status":
		if status, err := models.ParseToolStatus(msg.ToolStatus); err == nil && status.IsTerminal() {
			b.metrics.ToolExecutions.WithLabelValues(msg.ToolName, msg.ToolStatus).Inc()
		}
	case "state":
		// Compaction completion is the state event carrying the new boundary.
		if state, ok := msg.State.(map[string]any); ok {
			if _, ok := state["compacted_up_to"]; ok {
				b.metrics.Compactions.Inc()
			}
		}
	}
}

// Start begins listening for events relayed from other instances. No-op
// without Redis.
func (b *SessionBus) Start() error {
	if b.redis == nil {
		return nil
	}

	b.pubsub = b.redis.Client().PSubscribe(b.ctx, "redline:session:*:events")
	if _, err := b.pubsub.Receive(b.ctx); err != nil {
		return err
	}

	go b.processMessages()
	log.Printf("✅ [PUBSUB] Session relay started (instance: %s)", b.instanceID)
	return nil
}

func (b *SessionBus) processMessages() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env sessionEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("⚠️ [PUBSUB] Bad envelope on %s: %v", msg.Channel, err)
				continue
			}
			// Locally published events already went to local watchers.
			if env.InstanceID == b.instanceID {
				continue
			}
			b.local.Publish(env.SessionID, env.Message)
		}
	}
}

// Stop shuts the relay down
func (b *SessionBus) Stop() {
	b.cancel()
	if b.pubsub != nil {
		b.pubsub.Close()
	}
}
