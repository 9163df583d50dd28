package audio

import (
	"math"
	"testing"
)

func sineWave(n int, sampleRate, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(10000 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func TestUpsample16to24FrameSize(t *testing.T) {
	pcm := make([]byte, 640) // 320 samples @ 16kHz, one 20ms gateway frame
	out := Upsample16to24(pcm)
	if len(out) != 960 {
		t.Fatalf("got %d bytes, want 960 (640 * 3/2)", len(out))
	}
}

func TestDownsample24to16FrameSize(t *testing.T) {
	pcm := make([]byte, 960) // 480 samples @ 24kHz, one 20ms provider frame
	out := Downsample24to16(pcm)
	if len(out) != 640 {
		t.Fatalf("got %d bytes, want 640 (960 * 2/3)", len(out))
	}
}

func TestUpsampleThenDownsampleEmpty(t *testing.T) {
	if got := Upsample16to24(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := Downsample24to16(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func pearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var num, denomA, denomB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		denomA += da * da
		denomB += db * db
	}
	if denomA == 0 || denomB == 0 {
		return 0
	}
	return num / math.Sqrt(denomA*denomB)
}

func toFloat64(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}

func TestRoundTripPreservesToneCorrelation(t *testing.T) {
	// 400Hz tone, well within the 7.2kHz anti-alias cutoff, over 100ms at 16kHz.
	original := sineWave(1600, 16000, 400)
	pcm := Int16ToBytes(original)

	up := Upsample16to24(pcm)
	down := Downsample24to16(up)
	roundTripped := BytesToInt16(down)

	corr := pearsonCorrelation(toFloat64(original), toFloat64(roundTripped))
	if corr < 0.95 {
		t.Fatalf("round-trip correlation %v below 0.95 threshold", corr)
	}
}

func TestDownsampleAttenuatesAboveNyquist(t *testing.T) {
	// A tone above the 8kHz post-downsample Nyquist should be heavily
	// attenuated by the anti-alias filter rather than aliasing back in-band.
	highTone := sineWave(2400, 24000, 10000)
	pcm := Int16ToBytes(highTone)
	down := Downsample24to16(pcm)
	out := BytesToInt16(down)

	var energyIn, energyOut float64
	for _, s := range highTone {
		energyIn += float64(s) * float64(s)
	}
	for _, s := range out {
		energyOut += float64(s) * float64(s)
	}
	// Normalize by sample count since the two slices differ in length.
	avgIn := energyIn / float64(len(highTone))
	avgOut := energyOut / float64(len(out))
	if avgOut > avgIn*0.25 {
		t.Fatalf("expected substantial attenuation above Nyquist, avgIn=%v avgOut=%v", avgIn, avgOut)
	}
}
