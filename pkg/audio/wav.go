package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV container helpers for 16-bit PCM. Synthesis backends that return WAV
// (e.g., VOICEVOX) are decoded here before the PCM reaches the output sink.

var errNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// EncodeWAV wraps raw 16-bit PCM bytes in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, format Format) []byte {
	const headerSize = 44
	out := make([]byte, headerSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(format.BytesPerSecond()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(format.Channels*2))
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// DecodeWAV extracts the PCM payload and format from a RIFF/WAVE stream.
// Only uncompressed 16-bit PCM is supported. Unknown chunks before the data
// chunk are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, errNotWAV
	}

	var format Format
	sawFmt := false

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV encoding %d (want PCM)", audioFormat)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV bit depth %d (want 16)", bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			sawFmt = true

		case "data":
			if !sawFmt {
				return nil, Format{}, errors.New("audio: WAV data chunk before fmt chunk")
			}
			pcm := make([]byte, size)
			copy(pcm, data[body:body+size])
			return pcm, format, nil
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	return nil, Format{}, errors.New("audio: WAV stream has no data chunk")
}
