package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/core"
)

// Publication is one track a session currently publishes into the shared
// session. At most one publication exists per (owner, kind) at a time.
type Publication struct {
	Owner core.SessionID
	Kind  webrtc.RTPCodecType
	Src   *webrtc.TrackRemote

	relay *Relay
}

// Tap exposes a copy of the relayed packet stream, e.g. for recording.
func (p *Publication) Tap(buffer int) <-chan *rtp.Packet {
	return p.relay.Tap(buffer)
}

// Subscribers returns the current fan-out destinations.
func (p *Publication) Subscribers() []core.SessionID { return p.relay.Subscribers() }

// Publications owns the published-track list and the fan-out invariant:
// every published track is forwarded to every session other than its
// publisher for as long as both stay active.
type Publications struct {
	mu      sync.RWMutex
	byOwner map[core.SessionID]map[webrtc.RTPCodecType]*Publication
}

func NewPublications() *Publications {
	return &Publications{byOwner: make(map[core.SessionID]map[webrtc.RTPCodecType]*Publication)}
}

// Publish registers an inbound track and starts its relay loop. An earlier
// publication of the same (owner, kind) is stopped and replaced. onEnded is
// registered before the loop starts, so a source failing on its very first
// read still tears the publication down.
func (m *Publications) Publish(ctx context.Context, owner core.SessionID, track *webrtc.TrackRemote, onEnded func(*Publication)) *Publication {
	logger := log.With().
		Str("module", "sfu.relay").
		Str("sid", string(owner)).
		Str("kind", track.Kind().String()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	pub := &Publication{
		Owner: owner,
		Kind:  track.Kind(),
		Src:   track,
		relay: NewRelay(track, cancel),
	}
	if onEnded != nil {
		pub.relay.OnEnded(func() { onEnded(pub) })
	}

	m.mu.Lock()
	kinds, ok := m.byOwner[owner]
	if !ok {
		kinds = make(map[webrtc.RTPCodecType]*Publication)
		m.byOwner[owner] = kinds
	}
	old := kinds[pub.Kind]
	kinds[pub.Kind] = pub
	m.mu.Unlock()

	if old != nil {
		logger.Info().Msg("replacing existing publication")
		old.relay.stop(&logger)
	}

	logger.Info().Msg("starting relay loop")
	go pub.relay.loop(relayCtx, &logger)
	return pub
}

// List returns a snapshot of all current publications.
func (m *Publications) List() []*Publication {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Publication, 0, len(m.byOwner))
	for _, kinds := range m.byOwner {
		for _, pub := range kinds {
			out = append(out, pub)
		}
	}
	return out
}

// Attach subscribes dst to pub: a local track bound to the relay is added to
// dst's connection, preferring an idle send slot over a new transceiver.
func (m *Publications) Attach(pub *Publication, dst core.SessionID, conn core.MediaConnection) error {
	if dst == pub.Owner {
		return fmt.Errorf("refusing to attach %s track to its own publisher", pub.Kind)
	}
	local, err := webrtc.NewTrackLocalStaticRTP(pub.Src.Codec().RTPCodecCapability, pub.Src.ID(), pub.Src.StreamID())
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	sender, err := conn.AttachTrack(local)
	if err != nil {
		return fmt.Errorf("attach track: %w", err)
	}
	pub.relay.AddOutTrack(dst, NewOutTrack(local, sender, conn))
	return nil
}

// Retire removes pub, stops its relay and releases every destination's send
// slot. Returns the affected destinations so the caller can renegotiate
// them. A publication that has already been replaced is left alone.
func (m *Publications) Retire(pub *Publication) []core.SessionID {
	m.mu.Lock()
	current := false
	if kinds, ok := m.byOwner[pub.Owner]; ok && kinds[pub.Kind] == pub {
		delete(kinds, pub.Kind)
		if len(kinds) == 0 {
			delete(m.byOwner, pub.Owner)
		}
		current = true
	}
	m.mu.Unlock()
	if !current {
		return nil
	}
	return m.teardown(pub)
}

// UnpublishOwner removes every publication of owner (session going away).
func (m *Publications) UnpublishOwner(owner core.SessionID) []core.SessionID {
	m.mu.Lock()
	kinds := m.byOwner[owner]
	delete(m.byOwner, owner)
	m.mu.Unlock()

	var affected []core.SessionID
	for _, pub := range kinds {
		affected = append(affected, m.teardown(pub)...)
	}
	return affected
}

// Unsubscribe removes dst as a destination from every relay, releasing the
// slots it held. Used when dst's session is removed.
func (m *Publications) Unsubscribe(dst core.SessionID) {
	for _, pub := range m.List() {
		if ot, ok := pub.relay.RemoveOutTrack(dst); ok {
			releaseSlot(pub, dst, ot)
		}
	}
}

func (m *Publications) teardown(pub *Publication) []core.SessionID {
	dsts := pub.relay.Subscribers()
	for _, dst := range dsts {
		if ot, ok := pub.relay.RemoveOutTrack(dst); ok {
			releaseSlot(pub, dst, ot)
		}
	}
	pub.relay.stop(nil)
	return dsts
}

func releaseSlot(pub *Publication, dst core.SessionID, ot *OutTrack) {
	if ot.Conn == nil || ot.Sender == nil {
		return
	}
	if err := ot.Conn.DetachTrack(ot.Sender); err != nil {
		log.Error().
			Err(err).
			Str("module", "sfu").
			Str("sid", string(pub.Owner)).
			Str("dst_sid", string(dst)).
			Msg("detach track")
	}
}
