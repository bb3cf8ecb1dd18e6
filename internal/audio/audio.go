package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
)

const bitsPerSample = 16

// ToWAV wraps raw 16-bit little-endian PCM in a RIFF/WAVE header.
func ToWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format: %d Hz, %d channels", sampleRate, channels)
	}
	blockAlign := channels * bitsPerSample / 8
	if len(pcm)%blockAlign != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of frame size %d", len(pcm), blockAlign)
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	dataSize := len(pcm)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))                    // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))                     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))              // channels
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))            // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))         // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// Duration returns the playback length of pcm in seconds.
func Duration(pcm []byte, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(len(pcm)) / float64(sampleRate*channels*bitsPerSample/8)
}

// IsAllowedExtension reports whether name ends in one of allowed. Matching
// ignores case; entries carry their leading dot.
func IsAllowedExtension(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

// ContentType guesses the MIME type of an upload from its extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
