package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// makePCM generates a sine-wave PCM buffer at 440 Hz with the given amplitude.
func makePCM(samples int, amplitude float64) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestEncodeWAV_HeaderLayout(t *testing.T) {
	pcm := makePCM(160, 10_000)
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != HeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); int(got) != len(pcm) {
		t.Errorf("data size: expected %d, got %d", len(pcm), got)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("PCM payload does not round-trip")
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	pcm := makePCM(320, 8_000)
	wav := EncodeWAV(pcm, 16000, 1)

	f, got, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 1 || f.BitsPerSample != 16 {
		t.Errorf("unexpected format: %+v", f)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("decoded PCM differs from input")
	}
}

func TestDecodeWAV_NotRIFF(t *testing.T) {
	_, _, err := DecodeWAV([]byte("definitely not a wav file"))
	if !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestDecodeWAV_Empty(t *testing.T) {
	_, _, err := DecodeWAV(nil)
	if !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestDecodeWAV_NonPCMFormat(t *testing.T) {
	wav := EncodeWAV(makePCM(16, 1000), 16000, 1)
	// Flip the format tag to 3 (IEEE float).
	binary.LittleEndian.PutUint16(wav[20:22], 3)
	_, _, err := DecodeWAV(wav)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeWAV_TruncatedDataChunk(t *testing.T) {
	wav := EncodeWAV(makePCM(160, 1000), 16000, 1)
	_, _, err := DecodeWAV(wav[:len(wav)-10])
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeWAV_ExtraChunkBeforeData(t *testing.T) {
	pcm := makePCM(16, 1000)
	wav := EncodeWAV(pcm, 16000, 1)

	// Rebuild with a LIST chunk inserted between fmt and data.
	list := append([]byte("LIST"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(list[4:8], 4)
	list = append(list, []byte("INFO")...)

	var out bytes.Buffer
	out.Write(wav[:36])   // RIFF header + fmt chunk
	out.Write(list)       // inserted chunk
	out.Write(wav[36:])   // data chunk
	full := out.Bytes()
	binary.LittleEndian.PutUint32(full[4:8], uint32(out.Len()-8))

	f, got, err := DecodeWAV(full)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 16000 {
		t.Errorf("unexpected sample rate %d", f.SampleRate)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("decoded PCM differs from input")
	}
}

func TestDurationMs(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	// 16000 samples/s * 2 B/sample = 32 B/ms; 3200 bytes = 100 ms.
	if got := DurationMs(make([]byte, 3200), f); got != 100 {
		t.Errorf("expected 100 ms, got %d", got)
	}
	if got := DurationMs(make([]byte, 3200), Format{}); got != 0 {
		t.Errorf("expected 0 for invalid format, got %d", got)
	}
}
