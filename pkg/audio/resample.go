package audio

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
)

// Sample rates the bridge moves audio between: 16kHz is the gateway's wire
// rate, 24kHz is what the streaming STT/TTS/realtime providers speak.
const (
	GatewaySampleRate  = 16000
	ProviderSampleRate = 24000
)

// BytesToInt16 decodes little-endian 16-bit PCM bytes into samples.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// Int16ToBytes encodes samples into little-endian 16-bit PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Upsample16to24 converts 16kHz PCM to 24kHz (ratio 3:2) via linear
// interpolation with triangular dither applied before quantization, the
// way the corpus's only resampler (a plain linear-interpolation upsampler)
// does it, generalized to a non-integer ratio and given dither to mask
// quantization noise introduced by the rate change.
func Upsample16to24(pcm []byte) []byte {
	in := BytesToInt16(pcm)
	if len(in) == 0 {
		return nil
	}
	outLen := len(in) * 3 / 2
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * float64(len(in)-1) / float64(outLen-1)
		if outLen == 1 {
			srcPos = 0
		}
		lo := int(math.Floor(srcPos))
		hi := lo + 1
		if hi >= len(in) {
			hi = len(in) - 1
		}
		frac := srcPos - float64(lo)
		interp := float64(in[lo])*(1-frac) + float64(in[hi])*frac
		dither := (rand.Float64() + rand.Float64() - 1) * 0.5 // TPDF, +/-0.5 LSB
		out[i] = clampInt16(interp + dither)
	}
	return Int16ToBytes(out)
}

// blackmanSincLowPass builds a linear-phase FIR low-pass filter of the
// given tap count using a Blackman window, normalized to unity DC gain.
// cutoff and sampleRate are in Hz.
func blackmanSincLowPass(taps int, cutoff, sampleRate float64) []float64 {
	h := make([]float64, taps)
	m := float64(taps - 1)
	fc := cutoff / sampleRate
	var sum float64
	for n := 0; n < taps; n++ {
		x := float64(n) - m/2
		var sinc float64
		if x == 0 {
			sinc = 2 * fc
		} else {
			sinc = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
		window := 0.42 - 0.5*math.Cos(2*math.Pi*float64(n)/m) + 0.08*math.Cos(4*math.Pi*float64(n)/m)
		h[n] = sinc * window
		sum += h[n]
	}
	for n := range h {
		h[n] /= sum
	}
	return h
}

const downsampleFIRTaps = 64

var downsampleFIR = blackmanSincLowPass(downsampleFIRTaps, 7200, 24000)

// Downsample24to16 converts 24kHz PCM to 16kHz (ratio 2:3) by low-pass
// filtering at 7.2kHz with a 64-tap Blackman-windowed sinc FIR, then
// decimating. The anti-alias filter is required because the corpus's own
// simple upsampler carries a comment warning that naive decimation
// introduces aliasing; no DSP library appears anywhere in the retrieved
// examples, so the filter is implemented directly against math.
func Downsample24to16(pcm []byte) []byte {
	in := BytesToInt16(pcm)
	if len(in) == 0 {
		return nil
	}
	filtered := make([]float64, len(in))
	half := downsampleFIRTaps / 2
	for i := range in {
		var acc float64
		for k := 0; k < downsampleFIRTaps; k++ {
			idx := i + k - half
			if idx < 0 || idx >= len(in) {
				continue
			}
			acc += float64(in[idx]) * downsampleFIR[k]
		}
		filtered[i] = acc
	}
	outLen := len(in) * 2 / 3
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * float64(len(in)-1) / float64(outLen-1)
		if outLen <= 1 {
			srcPos = 0
		}
		lo := int(math.Floor(srcPos))
		hi := lo + 1
		if hi >= len(filtered) {
			hi = len(filtered) - 1
		}
		frac := srcPos - float64(lo)
		interp := filtered[lo]*(1-frac) + filtered[hi]*frac
		out[i] = clampInt16(interp)
	}
	return Int16ToBytes(out)
}
