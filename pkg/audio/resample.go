package audio

// Resample converts little-endian 16-bit PCM between sample rates using
// linear interpolation. Good enough for speech headed to a transcriber; not
// intended for playback fidelity.
func Resample(pcm []byte, inputRate, outputRate int) []byte {
	if inputRate == outputRate || len(pcm) < 2 {
		return pcm
	}

	samples := BytesToSamples(pcm)
	ratio := float64(outputRate) / float64(inputRate)
	outLen := int(float64(len(samples)) * ratio)
	out := make([]int16, outLen)

	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		frac := srcPos - float64(idx0)
		out[i] = int16(float64(samples[idx0])*(1.0-frac) + float64(samples[idx1])*frac)
	}

	return SamplesToBytes(out)
}

// DownmixToMono averages interleaved channels into a single channel.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 || len(pcm) < 2 {
		return pcm
	}

	samples := BytesToSamples(pcm)
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return SamplesToBytes(out)
}

// BytesToSamples reinterprets little-endian 16-bit PCM bytes as samples.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes serializes samples back to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
