package orch

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/app/sfu"
	"github.com/drazan/huddle/internal/core"
	"github.com/drazan/huddle/internal/media/record"
)

const tapBuffer = 256

// BindMediaHandlers wires transport-engine events for one session into the
// orchestrator. Called before the handshake completes.
func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID, username string) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, username, track)
	})
	mc.OnDataChannel(func(dc *webrtc.DataChannel) {
		o.OnDataChannel(username, dc)
	})
	mc.OnStateChange(func(st core.ConnState) {
		o.OnConnState(sid, st)
	})
}

// OnTrack registers an inbound track as a publication and fans it out to
// every other session. Each destination attach is isolated: one failure is
// logged and the rest proceed.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, username string, track *webrtc.TrackRemote) {
	pub := o.Pubs.Publish(ctx, sid, track, func(p *sfu.Publication) { o.onTrackEnded(p, username) })

	if o.Voices != nil && pub.Kind == webrtc.RTPCodecTypeAudio {
		o.Voices.ForUser(username)
	}
	if o.RecordingsDir != "" {
		rec := record.ForKind(o.RecordingsDir, pub.Kind)
		if o.SegmentLength > 0 {
			rec.Segment = o.SegmentLength
		}
		go rec.Run(ctx, pub.Tap(tapBuffer), username)
	}

	for _, dst := range o.Registry.List() {
		if dst.ID == sid || dst.Media == nil {
			continue
		}
		if err := o.Pubs.Attach(pub, dst.ID, dst.Media); err != nil {
			log.Error().
				Err(err).
				Str("module", "orch").
				Str("src_sid", string(sid)).
				Str("dst_sid", string(dst.ID)).
				Msg("fan-out attach failed")
			continue
		}
		o.triggerRenegotiation(dst.ID)
	}
}

// onTrackEnded retires the publication and renegotiates every destination
// whose media set shrank.
func (o *Orchestrator) onTrackEnded(pub *sfu.Publication, username string) {
	affected := o.Pubs.Retire(pub)
	if o.Voices != nil && pub.Kind == webrtc.RTPCodecTypeAudio {
		o.Voices.Release(username)
	}
	for _, dst := range affected {
		o.triggerRenegotiation(dst)
	}
}

// OnDataChannel registers an opened low-latency channel with the router
// under the session's display name and feeds inbound messages to it.
func (o *Orchestrator) OnDataChannel(username string, dc *webrtc.DataChannel) {
	if o.DataChannels == nil {
		return
	}
	dc.OnOpen(func() {
		o.DataChannels.Register(username, dataChannelEndpoint{dc})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		o.DataChannels.HandleMessage(username, msg.Data)
	})
}

type dataChannelEndpoint struct {
	dc *webrtc.DataChannel
}

func (e dataChannelEndpoint) Send(payload []byte) error {
	return e.dc.Send(payload)
}
