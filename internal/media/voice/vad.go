package voice

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// VoiceDetector classifies a PCM frame as speech or non-speech.
type VoiceDetector interface {
	IsSpeech(pcm []int16) (bool, error)
}

// webrtcDetector wraps the WebRTC VAD. Callers fail open: a detector error
// is treated as speech.
type webrtcDetector struct {
	vad *webrtcvad.VAD
}

// NewWebRTCDetector creates a detector at the given aggressiveness (0-3).
func NewWebRTCDetector(mode int) (VoiceDetector, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("init vad: %w", err)
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, fmt.Errorf("set vad mode %d: %w", mode, err)
	}
	return &webrtcDetector{vad: vad}, nil
}

func (d *webrtcDetector) IsSpeech(pcm []int16) (bool, error) {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return d.vad.Process(SampleRate, buf)
}
