package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection abstracts the WebRTC transport engine for one peer.
// SDP/ICE negotiation, packetization and media transport live behind it.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources.
	Close()

	// ApplyOffer applies a client-initiated remote offer.
	ApplyOffer(offer webrtc.SessionDescription) error
	// CreateAnswer generates, applies and returns the local answer.
	// ICE gathering is completed before it returns.
	CreateAnswer() (*webrtc.SessionDescription, error)
	// CreateOffer generates and applies a local offer for server-initiated
	// renegotiation.
	CreateOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer that completes a renegotiation.
	ApplyAnswer(answer webrtc.SessionDescription) error

	// AttachTrack adds an outgoing track, reusing an idle send slot when one
	// exists instead of allocating a new transceiver.
	AttachTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// DetachTrack releases a sender's slot so it can be reused later.
	DetachTrack(sender *webrtc.RTPSender) error

	// OnTrack sets a callback invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnDataChannel sets a callback invoked when the peer opens a data channel.
	OnDataChannel(func(dc *webrtc.DataChannel))
	// OnStateChange sets a callback for connection state transitions.
	OnStateChange(func(state ConnState))
}
