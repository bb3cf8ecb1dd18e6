package admin

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

type AudioRecord struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id,omitempty"`
	FileName      string  `json:"file_name,omitempty"`
	Transcription string  `json:"transcription,omitempty"`
	Source        string  `json:"source,omitempty"`
	Rating        float64 `json:"rating,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

type AudioRecordList struct {
	AudioRecords []AudioRecord `json:"audio_records"`
	Pagination
}

func (c *Client) ListAudioRecords(ctx context.Context, page Page) (AudioRecordList, error) {
	if err := page.validate(); err != nil {
		return AudioRecordList{}, err
	}
	var out AudioRecordList
	if err := c.getWithRetry(ctx, "/admin/analytics/audio_records", page.values(), &out); err != nil {
		return AudioRecordList{}, fmt.Errorf("list audio records: %w", err)
	}
	return out, nil
}

func (c *Client) DeleteAudioRecord(ctx context.Context, id string) error {
	id, err := checkID("record_id", id)
	if err != nil {
		return err
	}
	if err := c.send(ctx, http.MethodDelete, "/admin/audio_records/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete audio record %s: %w", id, err)
	}
	return nil
}

// StreamAudio copies the stored audio of a record to w and returns its
// content type.
func (c *Client) StreamAudio(ctx context.Context, id string, w io.Writer) (string, error) {
	id, err := checkID("record_id", id)
	if err != nil {
		return "", err
	}
	resp, err := c.api.Get(ctx, "/admin/audio_records/"+id+"/stream")
	if err != nil {
		return "", fmt.Errorf("stream audio record %s: %w", id, err)
	}
	if _, err := w.Write(resp.Body); err != nil {
		return "", fmt.Errorf("write audio record %s: %w", id, err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(resp.Body)
	}
	return ct, nil
}
