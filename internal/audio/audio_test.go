package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestToWAV(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms of 16kHz mono
	wav, err := ToWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("ToWAV() error = %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d", got)
	}
}

func TestToWAV_InvalidInput(t *testing.T) {
	if _, err := ToWAV(make([]byte, 4), 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := ToWAV(make([]byte, 3), 16000, 1); err == nil {
		t.Error("expected error for odd byte count")
	}
	if _, err := ToWAV(make([]byte, 6), 16000, 2); err == nil {
		t.Error("expected error for partial stereo frame")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(make([]byte, 32000), 16000, 1); got != 1 {
		t.Errorf("Duration() = %v, want 1", got)
	}
	if got := Duration(nil, 0, 1); got != 0 {
		t.Errorf("Duration() = %v, want 0", got)
	}
}

func TestIsAllowedExtension(t *testing.T) {
	allowed := []string{".wav", ".mp3", ".webm"}
	tests := []struct {
		name string
		want bool
	}{
		{"clip.wav", true},
		{"CLIP.WAV", true},
		{"/tmp/a.b/voice.webm", true},
		{"notes.txt", false},
		{"noext", false},
		{"wav", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAllowedExtension(tt.name, allowed); got != tt.want {
				t.Errorf("IsAllowedExtension(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	if ContentType("a.mp3") != "audio/mpeg" || ContentType("a.bin") != "application/octet-stream" {
		t.Error("unexpected content types")
	}
}
