package audio

// Conversion helpers between raw little-endian PCM bytes and sample slices.
// VAD backends consume int16 or float32 samples while capture and playback
// devices exchange bytes, so these sit on the hot path of every frame.

// Int16Samples decodes little-endian PCM bytes into int16 samples.
// A trailing odd byte is ignored.
func Int16Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// Float32Samples decodes little-endian PCM bytes into float32 samples in the
// range [-1, 1). Used by VAD models that operate on normalised input.
func Float32Samples(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// Int16Bytes encodes int16 samples as little-endian PCM bytes.
func Int16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

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

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
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

		interp := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interp)
		out[i*2+1] = byte(interp >> 8)
	}
	return out
}

// ToPlaybackFormat converts pcm from src to dst: stereo input is downmixed
// to mono first, then resampled. Only mono and stereo sources are supported;
// other channel counts are returned unchanged.
func ToPlaybackFormat(pcm []byte, src, dst Format) []byte {
	if src == dst {
		return pcm
	}
	if src.Channels == 2 && dst.Channels == 1 {
		pcm = StereoToMono(pcm)
		src.Channels = 1
	}
	if src.Channels == 1 && src.SampleRate != dst.SampleRate {
		pcm = ResampleMono16(pcm, src.SampleRate, dst.SampleRate)
	}
	return pcm
}
