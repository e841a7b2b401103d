package voice

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Engine hands out one Processor per publishing user. State lives for as
// long as the user is actively streaming audio; a reconnect starts fresh.
type Engine struct {
	mu         sync.Mutex
	processors map[string]*Processor
	detector   func() (VoiceDetector, error)
}

func NewEngine() *Engine {
	return &Engine{
		processors: make(map[string]*Processor),
		detector:   func() (VoiceDetector, error) { return NewWebRTCDetector(vadMode) },
	}
}

// ForUser returns the user's processor, creating one on first use.
func (e *Engine) ForUser(id string) *Processor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.processors[id]; ok {
		return p
	}
	vad, err := e.detector()
	if err != nil {
		// Without a detector every frame is treated as speech.
		log.Error().Err(err).Str("module", "voice").Str("user", id).Msg("voice detector unavailable")
		vad = alwaysSpeech{}
	}
	p := NewProcessor(vad)
	e.processors[id] = p
	log.Info().Str("module", "voice").Str("user", id).Msg("audio pipeline created")
	return p
}

// Release drops the user's processing state.
func (e *Engine) Release(id string) {
	e.mu.Lock()
	delete(e.processors, id)
	e.mu.Unlock()
	log.Info().Str("module", "voice").Str("user", id).Msg("audio pipeline released")
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.processors)
}

type alwaysSpeech struct{}

func (alwaysSpeech) IsSpeech([]int16) (bool, error) { return true, nil }
