package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/core"
)

type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	sid    core.SessionID
	cancel context.CancelFunc

	onTrack       func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onDataChannel func(dc *webrtc.DataChannel)
	onState       func(state core.ConnState)
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func NewWebRTCConnection(cfg webrtc.Configuration, sid core.SessionID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, sid: sid}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.onState(core.StateConnected)
		case webrtc.PeerConnectionStateFailed:
			c.onState(core.StateFailed)
		case webrtc.PeerConnectionStateClosed:
			c.onState(core.StateClosed)
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(ctx, track, receiver)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("label", dc.Label()).
			Msg("data channel opened")
		if c.onDataChannel != nil {
			c.onDataChannel(dc)
		}
	})

	return nil
}

func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(offer)
}

// CreateAnswer generates the local answer and waits for ICE gathering so the
// returned SDP is complete.
func (c *WebRTCConnection) CreateAnswer() (*webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

// CreateOffer generates and applies a local offer for renegotiation.
func (c *WebRTCConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

// AttachTrack adds an outgoing track. An idle sender of the same kind is
// reused via ReplaceTrack before a new transceiver is allocated.
func (c *WebRTCConnection) AttachTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	for _, tr := range c.pc.GetTransceivers() {
		sender := tr.Sender()
		if sender == nil || sender.Track() != nil {
			continue
		}
		if tr.Kind() != track.Kind() {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			continue
		}
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("kind", track.Kind().String()).Msg("reused idle send slot")
		return sender, nil
	}
	return c.pc.AddTrack(track)
}

// DetachTrack clears the sender's track, leaving the slot idle for reuse.
func (c *WebRTCConnection) DetachTrack(sender *webrtc.RTPSender) error {
	return sender.ReplaceTrack(nil)
}

func (c *WebRTCConnection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
		}
	}
}

// OnTrack sets the application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

// OnDataChannel sets the application-level callback for inbound data channels.
func (c *WebRTCConnection) OnDataChannel(fn func(dc *webrtc.DataChannel)) {
	c.onDataChannel = fn
}

// OnStateChange sets the application-level callback for lifecycle transitions.
func (c *WebRTCConnection) OnStateChange(fn func(state core.ConnState)) {
	c.onState = fn
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)
