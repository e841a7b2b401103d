// Package chat runs text chat and out-of-band signaling over one persistent
// websocket per client.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/core"
	"github.com/drazan/huddle/internal/domain"
)

const (
	// HistoryCapacity bounds the retained chat log.
	HistoryCapacity = 100
	// historyTail is how much of the log a new participant receives.
	historyTail = 50

	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

var ErrBackpressure = errors.New("backpressure")

// AnswerRouter receives renegotiation answers arriving on a client's
// duplex channel.
type AnswerRouter interface {
	Deliver(clientID, sdp string) bool
}

type participant struct {
	clientID string
	conn     *websocket.Conn
	send     chan core.Frame

	mu       sync.RWMutex
	closed   bool
	username string
}

func (p *participant) TrySend(f core.Frame) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("connection closed")
	}
	select {
	case p.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (p *participant) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.send)
	_ = p.conn.Close()
	p.mu.Unlock()
}

func (p *participant) Username() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username
}

func (p *participant) SetUsername(name string) {
	p.mu.Lock()
	p.username = name
	p.mu.Unlock()
}

// Gateway owns the participant set and the shared chat history.
type Gateway struct {
	mu           sync.RWMutex
	participants map[string]*participant

	history   *History
	answers   AnswerRouter
	readLimit int64
}

// NewGateway builds a gateway. readLimit bounds a single inbound ws message
// in bytes; zero means unlimited.
func NewGateway(answers AnswerRouter, readLimit int64) *Gateway {
	return &Gateway{
		participants: make(map[string]*participant),
		history:      NewHistory(HistoryCapacity),
		answers:      answers,
		readLimit:    readLimit,
	}
}

func (g *Gateway) History() *History { return g.history }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and runs the participant's message loop
// until disconnect.
func (g *Gateway) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("ws upgrade")
		return
	}
	if g.readLimit > 0 {
		ws.SetReadLimit(g.readLimit)
	}

	clientID := uuid.NewString()
	p := &participant{
		clientID: clientID,
		conn:     ws,
		send:     make(chan core.Frame, sendBuffer),
		username: domain.AnonymousName(clientID),
	}

	g.mu.Lock()
	g.participants[clientID] = p
	g.mu.Unlock()
	log.Info().Str("module", "chat").Str("client_id", clientID).Msg("participant connected")

	ctx, cancel := context.WithCancel(ctx)
	go g.writePump(ctx, p)

	g.sendJSON(p, struct {
		Type        string               `json:"type"`
		ClientID    string               `json:"client_id"`
		Username    string               `json:"username"`
		ChatHistory []domain.ChatMessage `json:"chat_history"`
	}{
		Type:        "connection_success",
		ClientID:    clientID,
		Username:    p.Username(),
		ChatHistory: g.history.Last(historyTail),
	})

	g.Broadcast(domain.NewSystemMessage(fmt.Sprintf("%s joined the chat", p.Username())), "")

	g.readPump(ctx, p)

	cancel()
	g.disconnect(p)
}

func (g *Gateway) disconnect(p *participant) {
	g.mu.Lock()
	delete(g.participants, p.clientID)
	g.mu.Unlock()
	p.Close()
	log.Info().Str("module", "chat").Str("client_id", p.clientID).Msg("participant disconnected")

	g.Broadcast(domain.NewSystemMessage(fmt.Sprintf("%s left the chat", p.Username())), "")
}

func (g *Gateway) writePump(ctx context.Context, p *participant) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-p.send:
			if !ok {
				return
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "chat").Msg("writePump set deadline")
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "chat").Msg("writePump write error")
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, p *participant) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := p.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "chat").Str("client_id", p.clientID).Msg("readPump closing")
				return
			}
			g.handleMessage(p, data)
		}
	}
}

func (g *Gateway) handleMessage(p *participant, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "chat").Str("client_id", p.clientID).Msg("malformed message")
		return
	}

	switch env.Type {
	case "chat_message":
		g.handleChatMessage(p, data)
	case "username_change":
		g.handleUsernameChange(p, data)
	case "renegotiation_answer":
		g.handleRenegotiationAnswer(p, data)
	default:
		log.Warn().Str("module", "chat").Str("type", env.Type).Msg("unknown chat message")
	}
}

func (g *Gateway) handleChatMessage(p *participant, data []byte) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("bad chat payload")
		return
	}
	msg := domain.NewChatMessage(p.Username(), p.clientID, payload.Content)
	g.Broadcast(msg, "")
}

func (g *Gateway) handleUsernameChange(p *participant, data []byte) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("bad username payload")
		return
	}
	if err := domain.ValidateUsername(payload.Username); err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("client_id", p.clientID).Msg("rejected username")
		return
	}
	old := p.Username()
	p.SetUsername(payload.Username)
	g.Broadcast(domain.NewSystemMessage(fmt.Sprintf("%s is now known as %s", old, payload.Username)), "")
}

func (g *Gateway) handleRenegotiationAnswer(p *participant, data []byte) {
	var payload struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.SDP == "" {
		log.Error().Str("module", "chat").Str("client_id", p.clientID).Msg("bad renegotiation answer")
		return
	}
	if g.answers == nil || !g.answers.Deliver(p.clientID, payload.SDP) {
		log.Warn().Str("module", "chat").Str("client_id", p.clientID).Msg("unmatched renegotiation answer")
	}
}

// Broadcast appends msg to history and sends it to every participant except
// exclude. Per-recipient failures are logged and do not interrupt delivery.
func (g *Gateway) Broadcast(msg domain.ChatMessage, exclude string) {
	g.history.Append(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("broadcast marshal")
		return
	}

	g.mu.RLock()
	snapshot := make([]*participant, 0, len(g.participants))
	for _, p := range g.participants {
		if p.clientID == exclude {
			continue
		}
		snapshot = append(snapshot, p)
	}
	g.mu.RUnlock()

	for _, p := range snapshot {
		if err := p.TrySend(data); err != nil {
			log.Error().Err(err).Str("module", "chat").Str("client_id", p.clientID).Msg("broadcast send")
		}
	}
}

// Send delivers an out-of-band payload to one client's duplex channel.
// Used by the signaling gateway for server-initiated renegotiation.
func (g *Gateway) Send(clientID string, v any) error {
	g.mu.RLock()
	p, ok := g.participants[clientID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no channel for client %s", clientID)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.TrySend(data)
}

func (g *Gateway) sendJSON(p *participant, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("sendJSON marshal")
		return
	}
	if err := p.TrySend(data); err != nil {
		log.Error().Err(err).Str("module", "chat").Str("client_id", p.clientID).Msg("sendJSON")
	}
}
