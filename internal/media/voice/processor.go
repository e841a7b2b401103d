// Package voice implements the per-user audio enhancement chain: voice
// activity gating, adaptive noise gating and fingerprinting, noise
// reduction, echo cancellation, dynamic compression and automatic gain
// control. Frames are 20 ms of mono 16-bit PCM at 48 kHz.
package voice

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

const (
	SampleRate   = 48000
	FrameSamples = 960 // 20 ms

	vadMode = 3

	gateWindowSize   = 50
	gatePercentile   = 0.15
	defaultGateLevel = 500

	noiseWindowSize     = 50
	suppressionStrength = 0.75

	bandPassLow  = 100
	bandPassHigh = 7000

	echoWindowSize = 10
	echoScale      = 0.6

	compressThreshold = 10000
	compressRatio     = 4.0

	agcWindowSize = 20
	targetRMS     = 20000
	minGain       = 0.5
	maxGain       = 2.0
)

// Processor holds the rolling state for one publishing user. It is not safe
// for concurrent use; each user's frames arrive on a single stream.
type Processor struct {
	vad VoiceDetector
	bp  *bandPass
	fft *fourier.FFT

	gateRMS       []float64
	gateThreshold float64

	noiseFrames [][]float64
	fingerprint []float64

	echoHistory [][]float64
	lastOutput  []float64

	agcRMS []float64
}

func NewProcessor(vad VoiceDetector) *Processor {
	return &Processor{
		vad:           vad,
		bp:            newBandPass(SampleRate, bandPassLow, bandPassHigh),
		fft:           fourier.NewFFT(FrameSamples),
		gateThreshold: defaultGateLevel,
	}
}

// ProcessFrame runs one frame through the full chain and returns the
// enhanced frame. Non-speech and background-noise frames come back as
// silence.
func (p *Processor) ProcessFrame(frame []int16) []int16 {
	speech, err := p.vad.IsSpeech(frame)
	if err != nil {
		speech = true // fail open
	}
	if !speech {
		return make([]int16, len(frame))
	}

	x := toFloat(frame)
	frameRMS := rms(x)

	if p.updateGate(frameRMS) {
		p.accumulateNoise(x)
		return make([]int16, len(frame))
	}

	y := p.reduceNoise(x)
	y = p.cancelEcho(y)
	y = compress(y)
	y = p.gainControl(y)

	if p.lastOutput != nil {
		p.echoHistory = append(p.echoHistory, p.lastOutput)
		if len(p.echoHistory) > echoWindowSize {
			p.echoHistory = p.echoHistory[1:]
		}
	}
	p.lastOutput = y

	return toPCM(y)
}

// Fingerprint returns the current noise fingerprint, nil until the noise
// window has filled once.
func (p *Processor) Fingerprint() []float64 { return p.fingerprint }

// GateThreshold returns the current noise-gate level.
func (p *Processor) GateThreshold() float64 { return p.gateThreshold }

// updateGate records the frame RMS, refreshes the adaptive threshold and
// reports whether the frame is background noise.
func (p *Processor) updateGate(frameRMS float64) bool {
	p.gateRMS = append(p.gateRMS, frameRMS)
	if len(p.gateRMS) > gateWindowSize {
		p.gateRMS = p.gateRMS[1:]
	}
	if len(p.gateRMS) >= gateWindowSize {
		sorted := make([]float64, len(p.gateRMS))
		copy(sorted, p.gateRMS)
		sort.Float64s(sorted)
		p.gateThreshold = stat.Quantile(gatePercentile, stat.LinInterp, sorted, nil)
	}
	return frameRMS < p.gateThreshold
}

// accumulateNoise feeds a background-noise frame into the rolling noise
// window; once full, the elementwise mean becomes the fingerprint.
func (p *Processor) accumulateNoise(x []float64) {
	frame := make([]float64, len(x))
	copy(frame, x)
	p.noiseFrames = append(p.noiseFrames, frame)
	if len(p.noiseFrames) > noiseWindowSize {
		p.noiseFrames = p.noiseFrames[1:]
	}
	if len(p.noiseFrames) < noiseWindowSize {
		return
	}
	fp := make([]float64, len(x))
	for _, nf := range p.noiseFrames {
		for i, v := range nf {
			fp[i] += v
		}
	}
	for i := range fp {
		fp[i] /= float64(len(p.noiseFrames))
	}
	p.fingerprint = fp
}

// reduceNoise applies stationary spectral subtraction against the noise
// fingerprint, falling back to the band-pass filter without one.
func (p *Processor) reduceNoise(x []float64) []float64 {
	if p.fingerprint == nil || len(x) != FrameSamples {
		return p.bp.apply(x)
	}

	coeffs := p.fft.Coefficients(nil, x)
	noise := p.fft.Coefficients(nil, p.fingerprint)

	for i, c := range coeffs {
		mag := cmplxAbs(c)
		if mag == 0 {
			continue
		}
		reduced := mag - suppressionStrength*cmplxAbs(noise[i])
		if reduced < 0 {
			reduced = 0
		}
		scale := complex(reduced/mag, 0)
		coeffs[i] = c * scale
	}

	out := p.fft.Sequence(nil, coeffs)
	inv := 1 / float64(FrameSamples)
	for i := range out {
		out[i] *= inv
	}
	return out
}

// cancelEcho subtracts a geometrically decaying estimate built from recent
// output frames.
func (p *Processor) cancelEcho(x []float64) []float64 {
	if len(p.echoHistory) == 0 {
		return x
	}
	estimate := make([]float64, len(x))
	for i := range p.echoHistory {
		// Most recent frame first.
		past := p.echoHistory[len(p.echoHistory)-1-i]
		if len(past) != len(x) {
			continue
		}
		w := math.Pow(0.5, float64(i+1))
		for j, v := range past {
			estimate[j] += v * w
		}
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - estimate[i]*echoScale
	}
	return out
}

// compress scales the frame down once its energy exceeds the threshold.
func compress(x []float64) []float64 {
	r := rms(x)
	if r <= compressThreshold {
		return x
	}
	reduction := 1 - (1/compressRatio)*(r-compressThreshold)/r
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * reduction
	}
	return out
}

// gainControl drives the rolling mean RMS toward targetRMS, clamping gain
// to [minGain, maxGain] and clipping the output to the int16 range.
func (p *Processor) gainControl(x []float64) []float64 {
	p.agcRMS = append(p.agcRMS, rms(x))
	if len(p.agcRMS) > agcWindowSize {
		p.agcRMS = p.agcRMS[1:]
	}
	avg := stat.Mean(p.agcRMS, nil)
	if avg <= 0 {
		return x
	}
	gain := targetRMS / avg
	if gain < minGain {
		gain = minGain
	}
	if gain > maxGain {
		gain = maxGain
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = clip(v * gain)
	}
	return out
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func clip(v float64) float64 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func toFloat(frame []int16) []float64 {
	out := make([]float64, len(frame))
	for i, s := range frame {
		out[i] = float64(s)
	}
	return out
}

func toPCM(x []float64) []int16 {
	out := make([]int16, len(x))
	for i, v := range x {
		out[i] = int16(clip(v))
	}
	return out
}
