package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/drazan/huddle/internal/core"
)

// PacketReader is the relay-side source a Relay reads from.
// *webrtc.TrackRemote satisfies it.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay fans one published remote track out to every subscriber and to any
// attached taps (e.g., the segmented recorder).
type Relay struct {
	src PacketReader

	mu        sync.RWMutex
	outTracks map[core.SessionID]*OutTrack
	taps      []chan *rtp.Packet
	stopped   bool

	cancel  context.CancelFunc
	onEnded func()
}

func NewRelay(src PacketReader, cancel context.CancelFunc) *Relay {
	return &Relay{
		src:       src,
		outTracks: make(map[core.SessionID]*OutTrack),
		cancel:    cancel,
	}
}

// OnEnded sets a callback fired once the source track stops producing. A
// callback registered after the relay already stopped fires immediately, so
// teardown is never lost to a source that dies mid-registration.
func (r *Relay) OnEnded(fn func()) {
	r.mu.Lock()
	stopped := r.stopped
	if !stopped {
		r.onEnded = fn
	}
	r.mu.Unlock()
	if stopped && fn != nil {
		fn()
	}
}

// Tap returns a channel carrying a copy of the relayed packet stream.
// The channel is closed when the relay stops. Slow consumers lose packets
// rather than stalling the fan-out.
func (r *Relay) Tap(buffer int) <-chan *rtp.Packet {
	ch := make(chan *rtp.Packet, buffer)
	r.mu.Lock()
	if r.stopped {
		close(ch)
	} else {
		r.taps = append(r.taps, ch)
	}
	r.mu.Unlock()
	return ch
}

// loop reads RTP packets from the source track and forwards them to all
// OutTracks until the context is cancelled or the source ends.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer r.stop(logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[core.SessionID]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	taps := r.taps
	r.mu.RUnlock()

	for _, tap := range taps {
		select {
		case tap <- pkt:
		default:
		}
	}

	dirty := make([]core.SessionID, 0, len(snapshot))
	for dstSID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dstSID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_sid", string(dstSID)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dstSID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range dirty {
		delete(r.outTracks, sid)
	}
}

// stop marks every subscriber for delete, closes taps and fires onEnded.
// Idempotent.
func (r *Relay) stop(logger *zerolog.Logger) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
	taps := r.taps
	r.taps = nil
	onEnded := r.onEnded
	r.mu.Unlock()

	for _, tap := range taps {
		close(tap)
	}
	if r.cancel != nil {
		r.cancel()
	}
	if onEnded != nil {
		onEnded()
	}
	if logger != nil {
		logger.Info().Msg("relay stopped")
	}
}

func (r *Relay) AddOutTrack(dst core.SessionID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[dst] = ot
}

func (r *Relay) RemoveOutTrack(dst core.SessionID) (*OutTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.outTracks[dst]
	if ok {
		ot.MarkDelete()
		delete(r.outTracks, dst)
	}
	return ot, ok
}

// Subscribers returns a snapshot of current destination session ids.
func (r *Relay) Subscribers() []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionID, 0, len(r.outTracks))
	for sid := range r.outTracks {
		out = append(out, sid)
	}
	return out
}

var _ PacketReader = (*webrtc.TrackRemote)(nil)
