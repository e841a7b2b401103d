// Package record writes a relayed media stream to disk in bounded-duration
// segments, one timestamped file per segment.
package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

const DefaultSegment = 60 * time.Second

// SinkFactory opens a fresh output sink for one segment.
type SinkFactory func(path string) (media.Writer, error)

// Recorder consumes a packet stream and rotates output files every Segment.
type Recorder struct {
	Dir     string
	Segment time.Duration
	Ext     string
	NewSink SinkFactory
}

// ForKind returns a Recorder writing the conventional container for the
// track kind: ogg for audio, ivf for video.
func ForKind(dir string, kind webrtc.RTPCodecType) *Recorder {
	r := &Recorder{Dir: dir, Segment: DefaultSegment}
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		r.Ext = ".ivf"
		r.NewSink = func(path string) (media.Writer, error) { return ivfwriter.New(path) }
	default:
		r.Ext = ".ogg"
		r.NewSink = func(path string) (media.Writer, error) { return oggwriter.New(path, 48000, 2) }
	}
	return r
}

// Run records pkts under label until the stream ends (pkts closed) or ctx is
// cancelled. The current sink is finalized on both. Any error is logged and
// the loop exits rather than risking further file corruption.
func (r *Recorder) Run(ctx context.Context, pkts <-chan *rtp.Packet, label string) {
	logger := log.With().Str("module", "record").Str("label", label).Logger()

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		logger.Error().Err(err).Msg("create recordings dir")
		return
	}

	segment := r.Segment
	if segment <= 0 {
		segment = DefaultSegment
	}

	for {
		path := r.segmentPath(label)
		sink, err := r.NewSink(path)
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("open segment sink")
			return
		}
		logger.Info().Str("path", path).Msg("segment started")

		ended, err := r.writeSegment(ctx, sink, pkts, segment)

		if cerr := sink.Close(); cerr != nil {
			logger.Error().Err(cerr).Str("path", path).Msg("finalize segment")
			return
		}
		logger.Info().Str("path", path).Msg("segment finished")

		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("segment write")
			return
		}
		if ended {
			logger.Info().Msg("stream ended, recording stopped")
			return
		}
	}
}

// writeSegment pumps packets into sink for at most d. It reports whether the
// stream is over (source closed or ctx cancelled).
func (r *Recorder) writeSegment(ctx context.Context, sink media.Writer, pkts <-chan *rtp.Packet, d time.Duration) (ended bool, err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-timer.C:
			return false, nil
		case pkt, ok := <-pkts:
			if !ok {
				return true, nil
			}
			if err := sink.WriteRTP(pkt); err != nil {
				return true, err
			}
		}
	}
}

func (r *Recorder) segmentPath(label string) string {
	stamp := time.Now().Format("20060102150405")
	return filepath.Join(r.Dir, fmt.Sprintf("%s_%s%s", label, stamp, r.Ext))
}
