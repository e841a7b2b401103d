// Package signal implements offer/answer ingestion and server-initiated
// renegotiation for peer sessions.
package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/app"
	"github.com/drazan/huddle/internal/core"
)

// DefaultAnswerTimeout bounds the wait for a renegotiation_answer.
const DefaultAnswerTimeout = 20 * time.Second

var ErrRenegotiationTimeout = errors.New("renegotiation answer timeout")

// ChannelDirectory locates a client's persistent duplex channel by its
// correlation id. The chat gateway implements it.
type ChannelDirectory interface {
	Send(clientID string, v any) error
}

type renegotiationOffer struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	PCID string `json:"pc_id"`
}

type flight struct {
	answer chan string
	again  bool
}

// Renegotiator drives server-initiated SDP exchanges. At most one
// renegotiation is in flight per session; a trigger arriving mid-flight is
// coalesced into one follow-up run instead of racing offers.
type Renegotiator struct {
	reg     *app.Registry
	dir     ChannelDirectory
	timeout time.Duration

	mu       sync.Mutex
	inflight map[core.SessionID]*flight
	byClient map[string]core.SessionID
}

func NewRenegotiator(reg *app.Registry, dir ChannelDirectory, timeout time.Duration) *Renegotiator {
	if timeout <= 0 {
		timeout = DefaultAnswerTimeout
	}
	return &Renegotiator{
		reg:      reg,
		dir:      dir,
		timeout:  timeout,
		inflight: make(map[core.SessionID]*flight),
		byClient: make(map[string]core.SessionID),
	}
}

// SetDirectory wires the out-of-band channel directory after construction;
// the directory (the chat gateway) needs the Renegotiator first to route
// answers back.
func (r *Renegotiator) SetDirectory(dir ChannelDirectory) {
	r.dir = dir
}

// Trigger starts a renegotiation for sid. Fire-and-forget: failures and
// timeouts are logged, the caller is never blocked.
func (r *Renegotiator) Trigger(sid core.SessionID) {
	go r.run(sid)
}

func (r *Renegotiator) run(sid core.SessionID) {
	logger := log.With().Str("module", "signal.reneg").Str("sid", string(sid)).Logger()

	if r.dir == nil {
		logger.Warn().Msg("no channel directory wired, skipping renegotiation")
		return
	}
	sess, ok := r.reg.Get(sid)
	if !ok || sess.Media == nil {
		logger.Warn().Msg("no session for renegotiation")
		return
	}
	if sess.ClientID == "" {
		logger.Warn().Msg("session has no out-of-band channel id")
		return
	}

	r.mu.Lock()
	if fl, exists := r.inflight[sid]; exists {
		fl.again = true
		r.mu.Unlock()
		logger.Info().Msg("renegotiation already in flight, coalescing")
		return
	}
	fl := &flight{answer: make(chan string, 1)}
	r.inflight[sid] = fl
	r.byClient[sess.ClientID] = sid
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		again := fl.again
		delete(r.inflight, sid)
		delete(r.byClient, sess.ClientID)
		r.mu.Unlock()
		if again {
			go r.run(sid)
		}
	}()

	offer, err := sess.Media.CreateOffer()
	if err != nil {
		logger.Error().Err(err).Msg("create renegotiation offer")
		return
	}

	msg := renegotiationOffer{Type: "renegotiation", SDP: offer.SDP, PCID: string(sid)}
	if err := r.dir.Send(sess.ClientID, msg); err != nil {
		logger.Error().Err(err).Str("client_id", sess.ClientID).Msg("send renegotiation offer")
		return
	}

	select {
	case sdp := <-fl.answer:
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
		if err := sess.Media.ApplyAnswer(answer); err != nil {
			logger.Error().Err(err).Msg("apply renegotiation answer")
			return
		}
		logger.Info().Msg("renegotiation completed")
	case <-time.After(r.timeout):
		logger.Error().Err(ErrRenegotiationTimeout).Msg("renegotiation abandoned")
	}
}

// Deliver routes a renegotiation_answer received on clientID's channel to
// the waiting exchange. Reports whether an exchange was waiting.
func (r *Renegotiator) Deliver(clientID, sdp string) bool {
	r.mu.Lock()
	sid, ok := r.byClient[clientID]
	var fl *flight
	if ok {
		fl = r.inflight[sid]
	}
	r.mu.Unlock()
	if fl == nil {
		return false
	}
	select {
	case fl.answer <- sdp:
		return true
	default:
		return false
	}
}
