package audio

import "time"

// Format describes the layout of a raw PCM byte stream. All audio in the
// pipeline is 16-bit little-endian signed PCM; Format carries the remaining
// two degrees of freedom.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for capture/STT, 24000 for synthesis output).
	SampleRate int

	// Channels: 1 for mono (capture, VAD, STT), 2 for stereo (some TTS output).
	Channels int
}

// BytesPerSecond returns the byte rate of a stream in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// FrameBytes returns the number of PCM bytes covering duration d.
// The result is always a multiple of the sample width.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(d.Seconds() * float64(f.SampleRate))
	return samples * f.Channels * 2
}

// Duration returns the play time of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// Frame is a single fixed-duration slice of captured audio flowing through
// the listening pipeline. Frames are the atomic unit handed to VAD and STT.
type Frame struct {
	// Data is raw 16-bit little-endian PCM.
	Data []byte

	// Format describes the PCM layout of Data.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
