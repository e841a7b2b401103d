// Package orch coordinates the connection registry, the track publication
// relay, data channels and per-user media services around one shared
// session.
package orch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/app"
	"github.com/drazan/huddle/internal/app/datachan"
	"github.com/drazan/huddle/internal/app/sfu"
	"github.com/drazan/huddle/internal/core"
	"github.com/drazan/huddle/internal/media/voice"
)

// Renegotiator triggers a server-initiated SDP exchange for a session after
// its offered media set changed. Implementations are fire-and-forget.
type Renegotiator interface {
	Trigger(sid core.SessionID)
}

type Orchestrator struct {
	Registry     *app.Registry
	Pubs         *sfu.Publications
	Reneg        Renegotiator
	DataChannels *datachan.Router
	Voices       *voice.Engine

	// RecordingsDir enables segmented recording of published tracks when
	// non-empty. SegmentLength overrides the recorder default when positive.
	RecordingsDir string
	SegmentLength time.Duration
}

// Register adds a fully negotiated session to the registry.
func (o *Orchestrator) Register(sid core.SessionID, username, clientID string, mc core.MediaConnection) *app.PeerSession {
	return o.Registry.Create(sid, username, clientID, mc)
}

// PreAttach subscribes a joining session to every track currently
// published by others. Attach failures are isolated per publication.
func (o *Orchestrator) PreAttach(sid core.SessionID, mc core.MediaConnection) {
	for _, pub := range o.Pubs.List() {
		if pub.Owner == sid {
			continue
		}
		if err := o.Pubs.Attach(pub, sid, mc); err != nil {
			log.Error().
				Err(err).
				Str("module", "orch").
				Str("sid", string(sid)).
				Str("src_sid", string(pub.Owner)).
				Msg("pre-attach failed")
		}
	}
}

// OnConnState applies a transport state transition to the session.
// Terminal states remove the session and release its resources.
func (o *Orchestrator) OnConnState(sid core.SessionID, st core.ConnState) {
	sess, ok := o.Registry.Get(sid)
	if !ok {
		return
	}
	sess.SetState(st)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("state", st.String()).Msg("session state")
	if st.Terminal() {
		o.removeSession(sid)
	}
}

func (o *Orchestrator) removeSession(sid core.SessionID) {
	sess, ok := o.Registry.Remove(sid)
	if !ok {
		return
	}

	affected := o.Pubs.UnpublishOwner(sid)
	o.Pubs.Unsubscribe(sid)

	if o.DataChannels != nil {
		o.DataChannels.Remove(sess.Username)
	}
	if o.Voices != nil {
		o.Voices.Release(sess.Username)
	}
	if sess.Media != nil {
		sess.Media.Close()
	}

	for _, dst := range affected {
		if dst == sid {
			continue
		}
		o.triggerRenegotiation(dst)
	}
}

// Shutdown closes every registered session's transport concurrently and
// clears the registry.
func (o *Orchestrator) Shutdown() {
	sessions := o.Registry.Drain()
	var wg sync.WaitGroup
	for _, sess := range sessions {
		o.Pubs.UnpublishOwner(sess.ID)
		if sess.Media == nil {
			continue
		}
		wg.Add(1)
		go func(mc core.MediaConnection) {
			defer wg.Done()
			mc.Close()
		}(sess.Media)
	}
	wg.Wait()
	log.Info().Str("module", "orch").Int("sessions", len(sessions)).Msg("shutdown complete")
}

func (o *Orchestrator) triggerRenegotiation(sid core.SessionID) {
	if o.Reneg == nil {
		return
	}
	o.Reneg.Trigger(sid)
}
