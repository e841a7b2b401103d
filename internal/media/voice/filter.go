package voice

import "math"

// biquad is a single second-order IIR section, transposed direct form II.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	z1, z2             float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// Butterworth Q for one second-order section.
const butterworthQ = math.Sqrt2 / 2

func newLowPass(fs, fc float64) *biquad {
	w0 := 2 * math.Pi * fc / fs
	alpha := math.Sin(w0) / (2 * butterworthQ)
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return &biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

func newHighPass(fs, fc float64) *biquad {
	w0 := 2 * math.Pi * fc / fs
	alpha := math.Sin(w0) / (2 * butterworthQ)
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return &biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// bandPass is a 4th-order band-pass built from cascaded high- and low-pass
// sections. Used as the noise-reduction fallback when no fingerprint exists.
type bandPass struct {
	stages []*biquad
}

func newBandPass(fs, low, high float64) *bandPass {
	return &bandPass{stages: []*biquad{
		newHighPass(fs, low),
		newHighPass(fs, low),
		newLowPass(fs, high),
		newLowPass(fs, high),
	}}
}

func (bp *bandPass) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for _, st := range bp.stages {
		for i := range out {
			out[i] = st.process(out[i])
		}
	}
	return out
}
