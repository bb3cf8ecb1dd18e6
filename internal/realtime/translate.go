package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lannaspeech/lanna/internal/language"
)

const (
	eventTranslate         = "translate"
	eventTranslationResult = "translation_result"
	eventReport            = "unknown_words_report"
	eventReportResult      = "report_result"
	eventSaveReport        = "save_unknown_words_report"
	eventSaveReportResult  = "save_report_result"
)

// ReplyError is an error reported by the server inside a reply.
type ReplyError struct {
	Event   string
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("realtime: %s: %s", e.Event, e.Message)
}

type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// normalize maps both languages to service codes and checks the pair.
func (r TranslateRequest) normalize() (TranslateRequest, error) {
	src, err := language.Normalize(r.SourceLang)
	if err != nil {
		return r, fmt.Errorf("source language: %w", err)
	}
	tgt, err := language.Normalize(r.TargetLang)
	if err != nil {
		return r, fmt.Errorf("target language: %w", err)
	}
	if err := language.ValidPair(src, tgt); err != nil {
		return r, err
	}
	r.SourceLang, r.TargetLang = src, tgt
	return r, nil
}

type Translation struct {
	Text       string
	SourceLang string
	TargetLang string
}

type translationReply struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Message    string `json:"message"`
}

// Translate sends one translate request and waits for its result.
func Translate(ctx context.Context, ch *Channel, req TranslateRequest) (Translation, error) {
	req, err := req.normalize()
	if err != nil {
		return Translation{}, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return Translation{}, fmt.Errorf("text is required")
	}

	reply, err := ch.request(ctx, eventTranslate, req, eventTranslationResult)
	if err != nil {
		return Translation{}, err
	}
	var out translationReply
	if err := reply.Decode(&out); err != nil {
		return Translation{}, err
	}
	if out.Type == "error" {
		return Translation{}, &ReplyError{Event: reply.Event, Message: out.Message}
	}
	t := Translation{Text: out.Text, SourceLang: out.SourceLang, TargetLang: out.TargetLang}
	if t.SourceLang == "" {
		t.SourceLang, t.TargetLang = req.SourceLang, req.TargetLang
	}
	return t, nil
}

// UnknownWord is a word the translator had no dictionary entry for.
type UnknownWord struct {
	Word  string
	Count int
}

// UnknownWordsReport asks the server which words in lang went untranslated,
// most frequent first.
func UnknownWordsReport(ctx context.Context, ch *Channel, lang string) ([]UnknownWord, error) {
	code, err := language.Normalize(lang)
	if err != nil {
		return nil, err
	}
	reply, err := ch.request(ctx, eventReport, map[string]string{"source_lang": code}, eventReportResult)
	if err != nil {
		return nil, err
	}
	var out struct {
		UnknownWords json.RawMessage `json:"unknown_words"`
		Error        string          `json:"error"`
	}
	if err := reply.Decode(&out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &ReplyError{Event: reply.Event, Message: out.Error}
	}
	return parseUnknownWords(out.UnknownWords)
}

// parseUnknownWords accepts a {word: count} object or a list of words.
func parseUnknownWords(raw json.RawMessage) ([]UnknownWord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var counts map[string]int
	if err := json.Unmarshal(raw, &counts); err == nil {
		words := make([]UnknownWord, 0, len(counts))
		for w, n := range counts {
			words = append(words, UnknownWord{Word: w, Count: n})
		}
		sort.Slice(words, func(i, j int) bool {
			if words[i].Count != words[j].Count {
				return words[i].Count > words[j].Count
			}
			return words[i].Word < words[j].Word
		})
		return words, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode unknown words: %w", err)
	}
	words := make([]UnknownWord, len(list))
	for i, w := range list {
		words[i] = UnknownWord{Word: w, Count: 1}
	}
	return words, nil
}

// SaveUnknownWordsReport asks the server to write the report for lang to a
// CSV file on its side. An empty path uses the server default.
func SaveUnknownWordsReport(ctx context.Context, ch *Channel, lang, path string) (string, error) {
	code, err := language.Normalize(lang)
	if err != nil {
		return "", err
	}
	in := map[string]string{"source_lang": code}
	if path != "" {
		in["file_path"] = path
	}
	reply, err := ch.request(ctx, eventSaveReport, in, eventSaveReportResult)
	if err != nil {
		return "", err
	}
	var out struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := reply.Decode(&out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &ReplyError{Event: reply.Event, Message: out.Error}
	}
	return out.Message, nil
}
