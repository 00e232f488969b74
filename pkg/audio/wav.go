// Package audio provides WAV container encoding/decoding and PCM helpers for
// the streaming pipeline. Frames arrive from clients as complete RIFF/WAV
// files carrying 16-bit signed little-endian PCM; this package validates and
// unwraps them, re-wraps concatenated PCM for batch inference, and computes
// the energy levels used for client activity indicators.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size in bytes of the canonical 44-byte WAV header written
// by EncodeWAV. Decoded files may carry extra chunks and are not required to
// use this exact layout.
const HeaderSize = 44

// Sentinel errors returned by DecodeWAV. Callers branch on these to
// distinguish malformed frames from unsupported-but-valid ones.
var (
	// ErrNotWAV indicates the payload is not a RIFF/WAVE container at all.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

	// ErrUnsupportedFormat indicates a valid WAV file whose encoding is not
	// 16-bit integer PCM.
	ErrUnsupportedFormat = errors.New("audio: unsupported WAV encoding")

	// ErrTruncated indicates the container is shorter than its declared
	// chunk sizes.
	ErrTruncated = errors.New("audio: truncated WAV data")
)

// Format describes the sample layout of a PCM stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitsPerSample is the sample width. Only 16 is produced by EncodeWAV.
	BitsPerSample int
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container with a 44-byte header. The returned byte slice is
// suitable for direct submission to a whisper.cpp server.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, HeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bps)                // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAVE container and returns its format and raw PCM
// payload. It walks the chunk list rather than assuming a fixed 44-byte
// header, so files with LIST/INFO chunks decode correctly. The returned PCM
// slice aliases data; callers that retain it past the lifetime of data must
// copy it.
//
// Only 16-bit integer PCM (format tag 1) is accepted; anything else returns
// ErrUnsupportedFormat.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var (
		f       Format
		pcm     []byte
		haveFmt bool
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return Format{}, nil, fmt.Errorf("%w: chunk %q claims %d bytes", ErrTruncated, id, size)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("%w: fmt chunk too short", ErrTruncated)
			}
			formatTag := binary.LittleEndian.Uint16(data[body : body+2])
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if formatTag != 1 || f.BitsPerSample != 16 {
				return Format{}, nil, fmt.Errorf("%w: format tag %d, %d bits per sample",
					ErrUnsupportedFormat, formatTag, f.BitsPerSample)
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return Format{}, nil, fmt.Errorf("%w: missing fmt chunk", ErrNotWAV)
	}
	if pcm == nil {
		return Format{}, nil, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
	}
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return Format{}, nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, f.Channels, f.SampleRate)
	}
	return f, pcm, nil
}

// DurationMs returns the duration of a PCM buffer in milliseconds for the
// given format. Returns 0 for invalid formats.
func DurationMs(pcm []byte, f Format) int {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 {
		return 0
	}
	bytesPerSec := f.SampleRate * f.Channels * f.BitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return len(pcm) * 1000 / bytesPerSec
}
