package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lannaspeech/lanna/internal/audio"
	"github.com/lannaspeech/lanna/internal/audiocache"
	"github.com/lannaspeech/lanna/internal/bus"
	"github.com/lannaspeech/lanna/internal/clipboard"
	"github.com/lannaspeech/lanna/internal/language"
	"github.com/lannaspeech/lanna/internal/realtime"
	"github.com/lannaspeech/lanna/internal/recording"
	"github.com/lannaspeech/lanna/internal/service"
	"github.com/lannaspeech/lanna/internal/tokenstore"
)

// newService returns the speech service bound to the user session, so a
// stored token is attached and refreshed when present.
func (a *app) newService() (*service.Service, func(), error) {
	m, err := a.newSession(tokenstore.User)
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(m.Client(), service.Options{
		MaxFileSize:       a.cfg.Upload.MaxFileSize,
		AllowedExtensions: a.cfg.Upload.AllowedExtensions,
		UploadTimeout:     a.cfg.HTTP.UploadTimeout,
	})
	return svc, m.Close, nil
}

// remember hands a result to a running "lanna serve" so it stays available
// for the rest of the session. Without a daemon it does nothing.
func (a *app) remember(e audiocache.Entry) {
	paths, err := bus.DefaultPaths()
	if err != nil {
		return
	}
	reply, err := paths.SendPayload(bus.CmdCache, e)
	if err != nil {
		log.Printf("audiocache: not kept: %v", err)
		return
	}
	if _, _, err := bus.ParseReply(reply); err != nil {
		log.Printf("audiocache: daemon declined: %v", err)
	}
}

// emit prints a result and copies it to the clipboard when asked to.
func (a *app) emit(ctx context.Context, text string, copyOut bool) {
	a.printer.Println(text)
	if !copyOut || text == "" {
		return
	}
	if err := clipboard.New(0).Copy(ctx, text); err != nil {
		a.printer.Warn("Could not copy to the clipboard: %v", err)
	}
}

func (a *app) transcribeCmd() *cobra.Command {
	var (
		lang    string
		copyOut bool
	)
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := a.newService()
			if err != nil {
				return err
			}
			defer done()

			text, err := svc.Transcribe(cmd.Context(), args[0], lang)
			if err != nil {
				return err
			}
			a.emit(cmd.Context(), text, copyOut)
			a.remember(audiocache.Entry{FileName: filepath.Base(args[0]), Transcription: text})
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "th", "Spoken language (th or km)")
	cmd.Flags().BoolVarP(&copyOut, "copy", "c", false, "Copy the transcription to the clipboard")
	return cmd
}

func (a *app) recordCmd() *cobra.Command {
	var (
		lang     string
		duration time.Duration
		save     string
		mic      bool
		copyOut  bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe",
		Long: `Record from the default PipeWire source and send the audio for transcription.
Recording stops after --duration or on Ctrl+C, whichever comes first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := language.Normalize(lang); err != nil {
				return err
			}
			rc := a.cfg.ToRecordingConfig()
			recorder := recording.NewRecorder(rc)

			captureCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			a.printer.Hint("Recording for up to %v, press Ctrl+C to stop early...", duration)
			pcm, err := recorder.Capture(captureCtx, duration)
			stop()
			if err != nil {
				return fmt.Errorf("record: %w", err)
			}

			wav, err := audio.ToWAV(pcm, rc.SampleRate, rc.Channels)
			if err != nil {
				return err
			}
			a.printer.Hint("Captured %.1fs (%s)", audio.Duration(pcm, rc.SampleRate, rc.Channels), humanize.Bytes(uint64(len(wav))))
			if save != "" {
				if err := os.WriteFile(save, wav, 0o644); err != nil {
					return fmt.Errorf("save recording: %w", err)
				}
			}

			svc, done, err := a.newService()
			if err != nil {
				return err
			}
			defer done()

			var text string
			if mic {
				text, err = svc.TranscribeMic(cmd.Context(), base64.StdEncoding.EncodeToString(wav), lang)
			} else {
				text, err = svc.RecordAudio(cmd.Context(), wav, lang)
			}
			if err != nil {
				return err
			}
			a.emit(cmd.Context(), text, copyOut)

			name := "recording.wav"
			if save != "" {
				name = filepath.Base(save)
			}
			a.remember(audiocache.Entry{FileName: name, Audio: wav, Transcription: text})
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "th", "Spoken language (th or km)")
	cmd.Flags().BoolVarP(&copyOut, "copy", "c", false, "Copy the transcription to the clipboard")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "Maximum recording length")
	cmd.Flags().StringVarP(&save, "output", "o", "", "Also write the recording to this WAV file")
	cmd.Flags().BoolVar(&mic, "mic", false, "Send the audio inline as base64 instead of as a file upload")
	return cmd
}

func (a *app) translateCmd() *cobra.Command {
	var (
		from, to    string
		interactive bool
		copyOut     bool
		paste       bool
	)
	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate between Thai and Kham Mueang",
		Long: `Translate text given as arguments or on stdin.

With --interactive, each line read from stdin is translated live over the
realtime connection. Type :swap to exchange the languages, :lang <src> <tgt>
to change them, or :quit to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = a.cfg.Translation.SourceLang
			}
			if to == "" {
				to = a.cfg.Translation.TargetLang
			}
			if interactive {
				return a.translateLive(cmd.Context(), from, to)
			}

			text := strings.Join(args, " ")
			if text == "" && paste {
				pasted, err := clipboard.New(0).Paste(cmd.Context())
				if err != nil {
					return err
				}
				text = strings.TrimSpace(pasted)
			}
			if text == "" {
				data, err := io.ReadAll(a.in)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}

			svc, done, err := a.newService()
			if err != nil {
				return err
			}
			defer done()

			out, err := svc.Translate(cmd.Context(), text, from, to)
			if err != nil {
				return err
			}
			a.emit(cmd.Context(), out, copyOut)
			a.remember(audiocache.Entry{Translation: out})
			return nil
		},
	}
	cmd.Flags().StringVarP(&from, "from", "f", "", "Source language (default from config)")
	cmd.Flags().StringVarP(&to, "to", "t", "", "Target language (default from config)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Translate stdin line by line over the realtime connection")
	cmd.Flags().BoolVarP(&copyOut, "copy", "c", false, "Copy the translation to the clipboard")
	cmd.Flags().BoolVarP(&paste, "paste", "p", false, "Translate the clipboard contents")
	return cmd
}

// dialRealtime opens the realtime channel, passing the user's token in the
// handshake when one is stored.
func (a *app) dialRealtime(ctx context.Context) (*realtime.Channel, error) {
	if a.cfg.Server.RealtimeURL == "" {
		return nil, fmt.Errorf("no realtime_url configured; set it with \"lanna configure\"")
	}
	header := http.Header{}
	if pair, ok := a.store.Get(tokenstore.User); ok {
		header.Set("Authorization", "Bearer "+pair.AccessToken)
	}
	return realtime.Dial(ctx, a.cfg.Server.RealtimeURL, realtime.Options{Header: header})
}

func (a *app) translateLive(ctx context.Context, from, to string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ch, err := a.dialRealtime(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	ts, err := realtime.NewTranslationSession(ch, from, to, realtime.SessionOptions{
		Debounce: a.cfg.Translation.Debounce,
	})
	if err != nil {
		return err
	}
	defer ts.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		last    string
		settled bool
		drainC  <-chan time.Time
		results = ts.Results()
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				if last == "" || settled {
					return nil
				}
				// wait for the last line's translation before leaving
				lines = nil
				drainC = time.After(a.cfg.Translation.Debounce + realtime.DefaultRequestTimeout)
				continue
			}
			switch fields := strings.Fields(line); {
			case len(fields) == 0:
			case fields[0] == ":quit":
				return nil
			case fields[0] == ":swap":
				ts.Swap()
			case fields[0] == ":lang":
				if len(fields) != 3 {
					a.printer.Warn("usage: :lang <source> <target>")
					continue
				}
				if err := ts.SetLanguages(fields[1], fields[2]); err != nil {
					a.printer.Warn("%v", err)
				}
			default:
				if line != last {
					last, settled = line, false
				}
				ts.SetText(line)
			}

		case u, ok := <-results:
			if !ok {
				return ch.Err()
			}
			if u.Err != nil {
				if errors.Is(u.Err, realtime.ErrDisconnected) || errors.Is(u.Err, realtime.ErrClosed) {
					return u.Err
				}
				a.printer.Error(u.Err)
				settled = u.Input == last
				if drainC != nil && settled {
					return nil
				}
				continue
			}
			if u.Swapped {
				last, settled = u.Input, false
				a.printer.Hint("[%s → %s] %s", u.SourceLang, u.TargetLang, u.Input)
				continue
			}
			if u.Translation != "" {
				a.printer.Println(u.Translation)
			}
			settled = u.Input == last
			if drainC != nil && settled {
				return nil
			}

		case <-drainC:
			return nil
		}
	}
}

func (a *app) unknownWordsCmd() *cobra.Command {
	var (
		lang  string
		save  bool
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "unknown-words",
		Short: "List words the translator has no entry for",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := a.dialRealtime(cmd.Context())
			if err != nil {
				return err
			}
			defer ch.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), realtime.DefaultRequestTimeout)
			defer cancel()

			if save {
				msg, err := realtime.SaveUnknownWordsReport(ctx, ch, lang, path)
				if err != nil {
					return err
				}
				a.printer.Success("%s", msg)
				return nil
			}

			words, err := realtime.UnknownWordsReport(ctx, ch, lang)
			if err != nil {
				return err
			}
			if len(words) == 0 {
				a.printer.Println("No unknown words reported.")
				return nil
			}
			if limit > 0 && len(words) > limit {
				words = words[:limit]
			}
			table := a.printer.Table("word", "count")
			for _, w := range words {
				table.AddRow(w.Word, strconv.Itoa(w.Count))
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "th", "Source language of the report")
	cmd.Flags().BoolVar(&save, "save", false, "Have the server write the report to a CSV file")
	cmd.Flags().StringVar(&path, "path", "", "Server-side CSV path for --save")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many words")
	return cmd
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := a.newService()
			if err != nil {
				return err
			}
			defer done()

			start := time.Now()
			msg, err := svc.Ping(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Success("%s (%v)", msg, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
