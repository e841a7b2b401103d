// Package datachan routes low-latency data-channel messages: heartbeat
// ping/pong and broadcast forwarding between open channels.
package datachan

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Endpoint is one open data channel. *webrtc.DataChannel is adapted to it by
// the orchestrator.
type Endpoint interface {
	Send(payload []byte) error
}

type pingMessage struct {
	Type string          `json:"type"`
	Time json.RawMessage `json:"time"`
}

type pongMessage struct {
	Type string          `json:"type"`
	Time json.RawMessage `json:"time"`
}

type broadcastMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type forwardedMessage struct {
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Router keeps open channels keyed by the owner's display name.
type Router struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

func NewRouter() *Router {
	return &Router{endpoints: make(map[string]Endpoint)}
}

func (r *Router) Register(name string, ep Endpoint) {
	r.mu.Lock()
	r.endpoints[name] = ep
	r.mu.Unlock()
	log.Info().Str("module", "datachan").Str("name", name).Msg("data channel registered")
}

func (r *Router) Remove(name string) {
	r.mu.Lock()
	delete(r.endpoints, name)
	r.mu.Unlock()
	log.Info().Str("module", "datachan").Str("name", name).Msg("data channel removed")
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// HandleMessage dispatches one raw payload received on sender's channel.
// Malformed payloads are logged and dropped; unrecognized shapes are ignored.
func (r *Router) HandleMessage(sender string, raw []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Error().Err(err).Str("module", "datachan").Str("name", sender).Msg("malformed data channel message")
		return
	}

	switch env.Type {
	case "ping":
		r.handlePing(sender, raw)
	case "broadcast":
		r.handleBroadcast(sender, raw)
	}
}

// handlePing replies pong with the original time value on the same channel.
func (r *Router) handlePing(sender string, raw []byte) {
	var p pingMessage
	if err := json.Unmarshal(raw, &p); err != nil || p.Time == nil {
		log.Error().Str("module", "datachan").Str("name", sender).Msg("malformed ping")
		return
	}

	r.mu.RLock()
	ep, ok := r.endpoints[sender]
	r.mu.RUnlock()
	if !ok {
		return
	}

	resp, err := json.Marshal(pongMessage{Type: "pong", Time: p.Time})
	if err != nil {
		return
	}
	if err := ep.Send(resp); err != nil {
		log.Error().Err(err).Str("module", "datachan").Str("name", sender).Msg("pong send")
	}
}

// handleBroadcast forwards the content to every other open channel.
// Each send is isolated: one recipient's failure never blocks the rest.
func (r *Router) handleBroadcast(sender string, raw []byte) {
	var b broadcastMessage
	if err := json.Unmarshal(raw, &b); err != nil {
		log.Error().Err(err).Str("module", "datachan").Str("name", sender).Msg("malformed broadcast")
		return
	}

	payload, err := json.Marshal(forwardedMessage{
		Type:      "forwarded_message",
		Sender:    sender,
		Content:   b.Content,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	r.mu.RLock()
	snapshot := make(map[string]Endpoint, len(r.endpoints))
	for name, ep := range r.endpoints {
		snapshot[name] = ep
	}
	r.mu.RUnlock()

	for name, ep := range snapshot {
		if name == sender {
			continue
		}
		if err := ep.Send(payload); err != nil {
			log.Error().Err(err).Str("module", "datachan").Str("name", name).Msg("forward send")
		}
	}
}
