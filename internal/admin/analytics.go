package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	analyticsPath = "/admin/analytics"
	dateLayout    = "2006-01-02"

	DefaultDays = 30
)

type AudioStat struct {
	Date        string  `json:"date"`
	Source      string  `json:"source"`
	Rating      float64 `json:"rating"`
	Count       int     `json:"count"`
	AvgDuration float64 `json:"avg_duration"`
}

type TranslationTrend struct {
	Date              string `json:"date"`
	SourceLanguage    string `json:"source_language"`
	TargetLanguage    string `json:"target_language"`
	TotalTranslations int    `json:"total_translations"`
}

type UserActivity struct {
	UserID                  string `json:"user_id"`
	Username                string `json:"username"`
	AudioCount              int    `json:"audio_count"`
	TranslationCount        int    `json:"translation_count"`
	LastAudioActivity       string `json:"last_audio_activity"`
	LastTranslationActivity string `json:"last_translation_activity"`
}

type SystemPerformance struct {
	AvgAudioProcessingTime    float64 `json:"avg_audio_processing_time"`
	TranscriptionSuccessRate  float64 `json:"transcription_success_rate"`
	AvgTranslationsPerRequest float64 `json:"avg_translations_per_request"`
	TotalTranslationRequests  int     `json:"total_translation_requests"`
}

type UserSegment struct {
	Cluster             int     `json:"cluster"`
	AvgAudioCount       float64 `json:"avg_audio_count"`
	AvgTranslationCount float64 `json:"avg_translation_count"`
	UserCount           int     `json:"user_count"`
}

type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

type ContentAnalysis struct {
	WordFrequency []WordCount `json:"word_frequency"`
}

type Health struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h Health) Healthy() bool { return h.Status == "healthy" }

func daysQuery(days int) (url.Values, error) {
	if days < 0 {
		return nil, validation("days", "must not be negative")
	}
	if days == 0 {
		days = DefaultDays
	}
	return url.Values{"days": {strconv.Itoa(days)}}, nil
}

// AudioStatistics returns per-day audio counts between start and end.
// Zero times leave that end of the range open.
func (c *Client) AudioStatistics(ctx context.Context, start, end time.Time) ([]AudioStat, error) {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, validation("end_date", "must not be before start_date")
	}
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start_date", start.Format(dateLayout))
	}
	if !end.IsZero() {
		q.Set("end_date", end.Format(dateLayout))
	}
	var out []AudioStat
	if err := c.getWithRetry(ctx, analyticsPath+"/audio_statistics", q, &out); err != nil {
		return nil, fmt.Errorf("audio statistics: %w", err)
	}
	return out, nil
}

func (c *Client) TranslationTrend(ctx context.Context, days int) ([]TranslationTrend, error) {
	q, err := daysQuery(days)
	if err != nil {
		return nil, err
	}
	var out []TranslationTrend
	if err := c.getWithRetry(ctx, analyticsPath+"/translation_trend", q, &out); err != nil {
		return nil, fmt.Errorf("translation trend: %w", err)
	}
	return out, nil
}

func (c *Client) UserActivity(ctx context.Context, days int) ([]UserActivity, error) {
	q, err := daysQuery(days)
	if err != nil {
		return nil, err
	}
	var out []UserActivity
	if err := c.getWithRetry(ctx, analyticsPath+"/user_activity_summary", q, &out); err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	return out, nil
}

func (c *Client) SystemPerformance(ctx context.Context, days int) (SystemPerformance, error) {
	q, err := daysQuery(days)
	if err != nil {
		return SystemPerformance{}, err
	}
	var out SystemPerformance
	if err := c.getWithRetry(ctx, analyticsPath+"/system_performance", q, &out); err != nil {
		return SystemPerformance{}, fmt.Errorf("system performance: %w", err)
	}
	return out, nil
}

func (c *Client) UserSegmentation(ctx context.Context, days int) ([]UserSegment, error) {
	q, err := daysQuery(days)
	if err != nil {
		return nil, err
	}
	var out []UserSegment
	if err := c.getWithRetry(ctx, analyticsPath+"/user_segmentation", q, &out); err != nil {
		return nil, fmt.Errorf("user segmentation: %w", err)
	}
	return out, nil
}

func (c *Client) ContentAnalysis(ctx context.Context, days int) (ContentAnalysis, error) {
	q, err := daysQuery(days)
	if err != nil {
		return ContentAnalysis{}, err
	}
	var out ContentAnalysis
	if err := c.getWithRetry(ctx, analyticsPath+"/content_analysis", q, &out); err != nil {
		return ContentAnalysis{}, fmt.Errorf("content analysis: %w", err)
	}
	return out, nil
}

// GenerateMonthlyReport queues the monthly report and returns the task id.
func (c *Client) GenerateMonthlyReport(ctx context.Context) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.send(ctx, http.MethodPost, analyticsPath+"/generate_monthly_report", nil, &out); err != nil {
		return "", fmt.Errorf("generate monthly report: %w", err)
	}
	return out.TaskID, nil
}

// Health reports the analytics backend status. An unhealthy backend answers
// 500 with a status body, which is returned alongside the error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	resp, err := c.api.Get(ctx, analyticsPath+"/health")
	if err != nil {
		h := Health{Status: "unhealthy", Error: err.Error()}
		return h, fmt.Errorf("analytics health: %w", err)
	}
	var h Health
	if err := resp.Decode(&h); err != nil {
		return Health{}, fmt.Errorf("analytics health: %w", err)
	}
	return h, nil
}

type DashboardParams struct {
	Days  int
	Start time.Time
	End   time.Time
}

// Dashboard collects every analytics section. A failing section does not
// stop the others; its error is recorded in Errors under the section name.
type Dashboard struct {
	AudioStatistics  []AudioStat
	TranslationTrend []TranslationTrend
	UserActivity     []UserActivity
	Performance      SystemPerformance
	Segments         []UserSegment
	Content          ContentAnalysis
	Errors           map[string]error
}

func (d Dashboard) Failed() bool { return len(d.Errors) > 0 }

func (c *Client) Dashboard(ctx context.Context, p DashboardParams) Dashboard {
	var (
		d  = Dashboard{Errors: map[string]error{}}
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(3)

	section := func(name string, fetch func() error) {
		g.Go(func() error {
			if err := fetch(); err != nil {
				mu.Lock()
				d.Errors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}

	section("audio_statistics", func() (err error) {
		d.AudioStatistics, err = c.AudioStatistics(ctx, p.Start, p.End)
		return err
	})
	section("translation_trend", func() (err error) {
		d.TranslationTrend, err = c.TranslationTrend(ctx, p.Days)
		return err
	})
	section("user_activity", func() (err error) {
		d.UserActivity, err = c.UserActivity(ctx, p.Days)
		return err
	})
	section("system_performance", func() (err error) {
		d.Performance, err = c.SystemPerformance(ctx, p.Days)
		return err
	})
	section("user_segmentation", func() (err error) {
		d.Segments, err = c.UserSegmentation(ctx, p.Days)
		return err
	})
	section("content_analysis", func() (err error) {
		d.Content, err = c.ContentAnalysis(ctx, p.Days)
		return err
	})

	_ = g.Wait()
	return d
}
