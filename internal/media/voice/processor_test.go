package voice

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedVAD struct {
	speech bool
	err    error
}

func (v scriptedVAD) IsSpeech([]int16) (bool, error) { return v.speech, v.err }

func sineFrame(freq, amp float64) []int16 {
	out := make([]int16, FrameSamples)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return out
}

func constFrame(v float64) []float64 {
	out := make([]float64, FrameSamples)
	for i := range out {
		out[i] = v
	}
	return out
}

func isSilence(frame []int16) bool {
	for _, s := range frame {
		if s != 0 {
			return false
		}
	}
	return true
}

func TestNonSpeechReturnsSilence(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: false})
	out := p.ProcessFrame(sineFrame(1000, 8000))
	require.Len(t, out, FrameSamples)
	assert.True(t, isSilence(out))
}

func TestDetectorErrorFailsOpen(t *testing.T) {
	p := NewProcessor(scriptedVAD{err: errors.New("vad broken")})
	out := p.ProcessFrame(sineFrame(1000, 8000))
	require.Len(t, out, FrameSamples)
	assert.False(t, isSilence(out), "a detector failure must not mute the user")
}

func TestQuietFrameGatesToSilence(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	out := p.ProcessFrame(sineFrame(1000, 100))
	assert.True(t, isSilence(out))
	assert.Equal(t, float64(defaultGateLevel), p.GateThreshold())
}

func TestNoiseFingerprintBuildsFromGatedFrames(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})

	for i := 0; i < gateWindowSize-1; i++ {
		p.ProcessFrame(sineFrame(1000, 8000))
	}
	assert.Nil(t, p.Fingerprint())

	// Each frame is a bit quieter than the last, so every one stays under
	// the adaptive threshold and feeds the noise window.
	for i := 0; i < noiseWindowSize; i++ {
		out := p.ProcessFrame(sineFrame(1000, float64(400-i)))
		assert.True(t, isSilence(out), "background frame %d must be muted", i)
	}

	require.NotNil(t, p.Fingerprint())
	assert.Len(t, p.Fingerprint(), FrameSamples)
	assert.NotEqual(t, float64(defaultGateLevel), p.GateThreshold())
}

func TestCompressLeavesQuietFramesAlone(t *testing.T) {
	in := constFrame(5000)
	out := compress(in)
	assert.Equal(t, in, out)
}

func TestCompressReducesLoudFrames(t *testing.T) {
	in := constFrame(20000)
	out := compress(in)
	outRMS := rms(out)
	assert.Less(t, outRMS, rms(in))
	assert.Greater(t, outRMS, float64(compressThreshold))
}

func TestGainControlReachesTarget(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	out := p.gainControl(constFrame(15000))
	assert.InDelta(t, targetRMS, rms(out), 1)
}

func TestGainControlClampsBoost(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	out := p.gainControl(constFrame(5000))
	assert.InDelta(t, 5000*maxGain, rms(out), 1)
}

func TestGainControlClampsAttenuation(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	out := p.gainControl(constFrame(50000))
	assert.InDelta(t, 50000*minGain, rms(out), 1)
}

func TestGainControlClipsToPCMRange(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	// Prime the window with quiet frames so the next frame gets a 2x boost.
	p.gainControl(constFrame(1000))
	p.gainControl(constFrame(1000))
	p.gainControl(constFrame(1000))

	out := p.gainControl(constFrame(17000))
	for _, v := range out {
		assert.LessOrEqual(t, v, float64(math.MaxInt16))
	}
	assert.Equal(t, float64(math.MaxInt16), out[0])
}

func TestCancelEchoSubtractsDecayedHistory(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	p.echoHistory = [][]float64{constFrame(1000)}

	out := p.cancelEcho(constFrame(0))
	require.Len(t, out, FrameSamples)
	// One history frame weighted 0.5, scaled by the cancellation factor.
	assert.InDelta(t, -1000*0.5*echoScale, out[0], 1e-9)
}

func TestCancelEchoWithoutHistoryIsIdentity(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	in := constFrame(123)
	assert.Equal(t, in, p.cancelEcho(in))
}

func TestReduceNoiseFallsBackToBandPass(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})

	inBand := toFloat(sineFrame(1000, 8000))
	out := p.reduceNoise(inBand)
	assert.Greater(t, rms(out), 0.5*rms(inBand), "in-band speech must survive the fallback filter")

	hiss := toFloat(sineFrame(20000, 8000))
	out = p.reduceNoise(hiss)
	assert.Less(t, rms(out), 0.2*rms(hiss), "out-of-band noise must be attenuated")
}

func TestReduceNoiseSubtractsFingerprint(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})
	in := toFloat(sineFrame(1000, 8000))
	p.fingerprint = append([]float64(nil), in...)

	out := p.reduceNoise(in)
	// Noise identical to the input leaves 1-strength of each bin's magnitude.
	assert.InDelta(t, (1-suppressionStrength)*rms(in), rms(out), 0.05*rms(in))
}

func TestProcessFrameKeepsEchoState(t *testing.T) {
	p := NewProcessor(scriptedVAD{speech: true})

	out := p.ProcessFrame(sineFrame(1000, 8000))
	assert.False(t, isSilence(out))
	require.NotNil(t, p.lastOutput)
	assert.Empty(t, p.echoHistory)

	p.ProcessFrame(sineFrame(1000, 8000))
	assert.Len(t, p.echoHistory, 1)
}

func TestRMSHelpers(t *testing.T) {
	assert.Zero(t, rms(nil))
	assert.InDelta(t, 3, rms([]float64{3, -3, 3, -3}), 1e-9)

	assert.Equal(t, float64(math.MaxInt16), clip(1e9))
	assert.Equal(t, float64(math.MinInt16), clip(-1e9))
	assert.Equal(t, 42.0, clip(42))
}

func TestPCMConversionRoundTrip(t *testing.T) {
	in := []int16{-32768, -1, 0, 1, 32767}
	assert.Equal(t, in, toPCM(toFloat(in)))
}
