// Package service calls the Lanna transcription and translation endpoints.
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lannaspeech/lanna/internal/apiclient"
	"github.com/lannaspeech/lanna/internal/audio"
	"github.com/lannaspeech/lanna/internal/language"
)

const (
	DefaultMaxFileSize   = 10 << 20
	DefaultUploadTimeout = 30 * time.Second
)

var DefaultAllowedExtensions = []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"}

type Options struct {
	MaxFileSize       int64
	AllowedExtensions []string
	UploadTimeout     time.Duration
}

// Service wraps a request client. Requests carry the user's token when one
// is stored and go out anonymously otherwise.
type Service struct {
	client        *apiclient.Client
	maxFileSize   int64
	allowed       []string
	uploadTimeout time.Duration
}

func New(client *apiclient.Client, opts Options) *Service {
	s := &Service{
		client:        client,
		maxFileSize:   opts.MaxFileSize,
		allowed:       opts.AllowedExtensions,
		uploadTimeout: opts.UploadTimeout,
	}
	if s.maxFileSize <= 0 {
		s.maxFileSize = DefaultMaxFileSize
	}
	if len(s.allowed) == 0 {
		s.allowed = DefaultAllowedExtensions
	}
	if s.uploadTimeout <= 0 {
		s.uploadTimeout = DefaultUploadTimeout
	}
	return s
}

type transcriptionResponse struct {
	Transcription string `json:"transcription"`
}

// Transcribe uploads the audio file at path and returns its transcription.
func (s *Service) Transcribe(ctx context.Context, path, lang string) (string, error) {
	code, err := normalizeLanguage("language", lang)
	if err != nil {
		return "", err
	}

	name := filepath.Base(path)
	if !audio.IsAllowedExtension(name, s.allowed) {
		return "", validationError("file", fmt.Sprintf("unsupported file type %q (allowed: %s)", filepath.Ext(name), strings.Join(s.allowed, " ")))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	if info.IsDir() {
		return "", validationError("file", fmt.Sprintf("%s is a directory", path))
	}
	if err := s.checkSize(info.Size()); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	body := apiclient.NewMultipart().File("file", name, f).Field("language", code)

	log.Printf("service: uploading %s (%s, language=%s)", name, humanize.Bytes(uint64(info.Size())), code)
	var out transcriptionResponse
	if err := s.client.SendJSON(ctx, http.MethodPost, "/transcribe", body, &out, s.uploadOpts()...); err != nil {
		return "", fmt.Errorf("transcribe %s: %w", name, err)
	}
	return out.Transcription, nil
}

// RecordAudio uploads a WAV recording taken from the microphone.
func (s *Service) RecordAudio(ctx context.Context, wav []byte, lang string) (string, error) {
	code, err := normalizeLanguage("language", lang)
	if err != nil {
		return "", err
	}
	if len(wav) == 0 {
		return "", validationError("file", "recording is empty")
	}
	if err := s.checkSize(int64(len(wav))); err != nil {
		return "", err
	}

	name := fmt.Sprintf("recording-%d.wav", time.Now().Unix())
	body := apiclient.NewMultipart().FileBytes("file", name, wav).Field("language", code)

	var out transcriptionResponse
	if err := s.client.SendJSON(ctx, http.MethodPost, "/record_audio", body, &out, s.uploadOpts()...); err != nil {
		return "", fmt.Errorf("record audio: %w", err)
	}
	return out.Transcription, nil
}

// TranscribeMic sends base64 encoded audio captured from the microphone.
func (s *Service) TranscribeMic(ctx context.Context, audioBase64, lang string) (string, error) {
	code, err := normalizeLanguage("language", lang)
	if err != nil {
		return "", err
	}
	if audioBase64 == "" {
		return "", validationError("audio_data", "required")
	}
	if _, err := base64.StdEncoding.DecodeString(audioBase64); err != nil {
		return "", validationError("audio_data", "not valid base64")
	}

	in := map[string]string{"audio_data": audioBase64, "language": code}
	var out transcriptionResponse
	if err := s.client.SendJSON(ctx, http.MethodPost, "/transcribe_Mic", in, &out, s.uploadOpts()...); err != nil {
		return "", fmt.Errorf("transcribe microphone audio: %w", err)
	}
	return out.Transcription, nil
}

// Translate translates text between the two service languages.
func (s *Service) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", validationError("text", "required")
	}
	srcCode, err := normalizeLanguage("source_lang", src)
	if err != nil {
		return "", err
	}
	tgtCode, err := normalizeLanguage("target_lang", tgt)
	if err != nil {
		return "", err
	}
	if err := language.ValidPair(srcCode, tgtCode); err != nil {
		return "", validationError("target_lang", err.Error())
	}

	in := map[string]string{"text": text, "source_lang": srcCode, "target_lang": tgtCode}
	var out struct {
		Translation string `json:"translation"`
	}
	if err := s.client.SendJSON(ctx, http.MethodPost, "/translate", in, &out, apiclient.WithOptionalAuth()); err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return out.Translation, nil
}

// Ping checks that the service is reachable and returns its status message.
func (s *Service) Ping(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := s.client.GetJSON(ctx, "/test", &out, apiclient.WithoutAuth()); err != nil {
		return "", fmt.Errorf("ping: %w", err)
	}
	return out.Message, nil
}

func (s *Service) uploadOpts() []apiclient.RequestOption {
	return []apiclient.RequestOption{apiclient.WithOptionalAuth(), apiclient.WithTimeout(s.uploadTimeout)}
}

func (s *Service) checkSize(n int64) error {
	if n > s.maxFileSize {
		return validationError("file", fmt.Sprintf("file is %s, exceeding the %s limit",
			humanize.Bytes(uint64(n)), humanize.Bytes(uint64(s.maxFileSize))))
	}
	return nil
}

func normalizeLanguage(field, input string) (string, error) {
	code, err := language.Normalize(input)
	if err != nil {
		return "", validationError(field, err.Error())
	}
	return code, nil
}

func validationError(field, msg string) error {
	return &apiclient.Error{
		Kind:    apiclient.KindValidation,
		Message: msg,
		Fields:  map[string]string{field: msg},
	}
}
