// Package audio converts codec-framed audio chunks into the broker's
// canonical PCM representation: 16 kHz, mono, 16-bit signed little-endian.
//
// The entry point is [Normaliser], one per call leg. Container demuxing and
// codec decode are stateful (Opus decoders carry inter-frame state), so a
// Normaliser must not be shared across legs or goroutines.
package audio

import "fmt"

// Canonical PCM format produced by every normalisation path.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	BytesPerSample      = 2
)

// Duration returns the playing time in milliseconds of canonical PCM bytes.
func Duration(pcm []byte) int {
	return len(pcm) * 1000 / (CanonicalSampleRate * CanonicalChannels * BytesPerSample)
}

// DownmixToMono averages interleaved channel samples per frame into a mono
// stream. Uses int32 arithmetic to avoid overflow and clamps to int16 range.
// Input must be little-endian int16 PCM. channels must be ≥ 1; mono input is
// returned unchanged.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * BytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := i*frameBytes + c*BytesPerSample
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := sum / int32(channels)
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. Linear interpolation keeps pitch exact (the output sample
// count is scaled by dstRate/srcRate) at the cost of some high-frequency
// aliasing, which is irrelevant for speech at 16 kHz. If srcRate == dstRate
// the input is returned unchanged.
func ResampleMono(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / BytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*BytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// toCanonical downmixes and resamples decoded PCM into the canonical format.
func toCanonical(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio: odd PCM byte count %d", len(pcm))
	}
	pcm = DownmixToMono(pcm, channels)
	pcm = ResampleMono(pcm, sampleRate, CanonicalSampleRate)
	return pcm, nil
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
