package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lannaspeech/lanna/internal/language"
)

const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second
)

// TranslationUpdate is emitted whenever the visible translation changes.
type TranslationUpdate struct {
	Input       string
	Translation string
	SourceLang  string
	TargetLang  string
	// Swapped is set on the update produced by Swap, before the new input
	// has been translated.
	Swapped bool
	Err     error
}

type SessionOptions struct {
	Debounce       time.Duration
	RequestTimeout time.Duration
}

type commandKind int

const (
	cmdText commandKind = iota
	cmdLanguages
	cmdSwap
)

type command struct {
	kind     commandKind
	text     string
	src, tgt string
}

type response struct {
	seq         uint64
	translation Translation
	err         error
}

// TranslationSession translates text as it is typed. Input changes are
// debounced, at most one request is in flight, and replies for input that
// has since changed are dropped.
type TranslationSession struct {
	ch   *Channel
	opts SessionOptions

	cmds    chan command
	results chan TranslationUpdate

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewTranslationSession(ch *Channel, src, tgt string, opts SessionOptions) (*TranslationSession, error) {
	src, tgt, err := normalizePair(src, tgt)
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TranslationSession{
		ch:      ch,
		opts:    opts,
		cmds:    make(chan command),
		results: make(chan TranslationUpdate, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx, src, tgt)
	return s, nil
}

// Results is closed when the session is closed.
func (s *TranslationSession) Results() <-chan TranslationUpdate { return s.results }

func (s *TranslationSession) SetText(text string) {
	s.send(command{kind: cmdText, text: text})
}

func (s *TranslationSession) SetLanguages(src, tgt string) error {
	src, tgt, err := normalizePair(src, tgt)
	if err != nil {
		return err
	}
	s.send(command{kind: cmdLanguages, src: src, tgt: tgt})
	return nil
}

// Swap exchanges the languages and makes the current translation the input.
func (s *TranslationSession) Swap() {
	s.send(command{kind: cmdSwap})
}

func (s *TranslationSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *TranslationSession) send(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.done:
	}
}

func (s *TranslationSession) run(ctx context.Context, src, tgt string) {
	defer close(s.done)
	defer close(s.results)

	var (
		text, translation string
		seq               uint64
		inflight, pending bool

		timer  *time.Timer
		timerC <-chan time.Time
	)
	responses := make(chan response, 1)

	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(s.opts.Debounce)
		timerC = timer.C
	}
	unschedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	emit := func(u TranslationUpdate) {
		u.SourceLang, u.TargetLang = src, tgt
		select {
		case s.results <- u:
		case <-ctx.Done():
		}
	}
	start := func() {
		if strings.TrimSpace(text) == "" {
			return
		}
		inflight = true
		req := TranslateRequest{Text: text, SourceLang: src, TargetLang: tgt}
		go func(seq uint64) {
			rctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()
			t, err := Translate(rctx, s.ch, req)
			responses <- response{seq: seq, translation: t, err: err}
		}(seq)
	}
	changed := func() {
		seq++
		if strings.TrimSpace(text) == "" {
			unschedule()
			pending = false
			translation = ""
			emit(TranslationUpdate{Input: text})
			return
		}
		schedule()
	}

	for {
		select {
		case <-ctx.Done():
			unschedule()
			if inflight {
				<-responses
			}
			return

		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdText:
				if cmd.text == text {
					continue
				}
				text = cmd.text
			case cmdLanguages:
				if cmd.src == src && cmd.tgt == tgt {
					continue
				}
				src, tgt = cmd.src, cmd.tgt
			case cmdSwap:
				src, tgt = tgt, src
				text, translation = translation, text
				emit(TranslationUpdate{Input: text, Translation: translation, Swapped: true})
			}
			changed()

		case <-timerC:
			timer, timerC = nil, nil
			if inflight {
				pending = true
				continue
			}
			start()

		case r := <-responses:
			inflight = false
			if r.seq == seq {
				if r.err == nil {
					translation = r.translation.Text
				}
				emit(TranslationUpdate{Input: text, Translation: translation, Err: r.err})
			} else if errors.Is(r.err, ErrDisconnected) || errors.Is(r.err, ErrClosed) {
				emit(TranslationUpdate{Input: text, Translation: translation, Err: r.err})
			}
			if pending {
				pending = false
				start()
			}
		}
	}
}

func normalizePair(src, tgt string) (string, string, error) {
	s, err := language.Normalize(src)
	if err != nil {
		return "", "", err
	}
	t, err := language.Normalize(tgt)
	if err != nil {
		return "", "", err
	}
	if err := language.ValidPair(s, t); err != nil {
		return "", "", err
	}
	return s, t, nil
}
