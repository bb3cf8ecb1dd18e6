package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockServer speaks the realtime envelope protocol. translate replies with
// "<target>(<text>)"; the text "boom" gets an error reply.
type mockServer struct {
	*httptest.Server

	mu       sync.Mutex
	received []TranslateRequest
	auth     string

	// delay, when set, is applied before replying to a translate.
	delay func(text string) time.Duration
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.auth = r.Header.Get("Authorization")
		m.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				t.Errorf("bad frame: %s", msg)
				return
			}
			if !m.handle(conn, env) {
				return
			}
		}
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) handle(conn *websocket.Conn, env envelope) bool {
	reply := func(event string, data any) {
		raw, _ := json.Marshal(data)
		conn.WriteJSON(envelope{Event: event, Data: raw})
	}

	switch env.Event {
	case "translate":
		var req TranslateRequest
		json.Unmarshal(env.Data, &req)
		m.mu.Lock()
		m.received = append(m.received, req)
		delay := m.delay
		m.mu.Unlock()
		if delay != nil {
			time.Sleep(delay(req.Text))
		}
		if req.Text == "boom" {
			reply("translation_result", map[string]string{"type": "error", "message": "Unsupported language pair"})
			return true
		}
		reply("translation_result", map[string]string{
			"type":        "translation",
			"text":        req.TargetLang + "(" + req.Text + ")",
			"source_lang": req.SourceLang,
			"target_lang": req.TargetLang,
		})
	case "unknown_words_report":
		var req map[string]string
		json.Unmarshal(env.Data, &req)
		if req["source_lang"] == "th" {
			reply("report_result", map[string]any{"unknown_words": map[string]int{"เจ้า": 3, "ปิ๊ก": 5, "กาด": 3}})
		} else {
			reply("report_result", map[string]any{"unknown_words": []string{"อู้", "จาวบ้าน"}})
		}
	case "save_unknown_words_report":
		var req map[string]string
		json.Unmarshal(env.Data, &req)
		path := req["file_path"]
		if path == "" {
			path = "unknown_words_" + req["source_lang"] + ".csv"
		}
		reply("save_report_result", map[string]string{"message": "Report saved to " + path})
	case "ping":
		reply("pong", map[string]string{})
	case "drop":
		return false
	}
	return true
}

func (m *mockServer) wsURL() string {
	return "ws" + strings.TrimPrefix(m.URL, "http")
}

func (m *mockServer) translateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func (m *mockServer) lastTranslate() TranslateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) == 0 {
		return TranslateRequest{}
	}
	return m.received[len(m.received)-1]
}

func dial(t *testing.T, m *mockServer) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := Dial(ctx, m.wsURL(), Options{RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestTranslate(t *testing.T) {
	m := newMockServer(t)
	ch := dial(t, m)
	ctx := context.Background()

	got, err := Translate(ctx, ch, TranslateRequest{Text: "สวัสดี", SourceLang: "ไทย", TargetLang: "คำเมือง"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got.Text != "km(สวัสดี)" || got.SourceLang != "th" || got.TargetLang != "km" {
		t.Errorf("translation = %+v", got)
	}

	_, err = Translate(ctx, ch, TranslateRequest{Text: "boom", SourceLang: "th", TargetLang: "km"})
	var replyErr *ReplyError
	if !errors.As(err, &replyErr) || replyErr.Message != "Unsupported language pair" {
		t.Errorf("expected ReplyError, got %v", err)
	}

	before := m.translateCount()
	if _, err := Translate(ctx, ch, TranslateRequest{Text: "x", SourceLang: "th", TargetLang: "th"}); err == nil {
		t.Error("same-language pair should fail")
	}
	if _, err := Translate(ctx, ch, TranslateRequest{Text: " ", SourceLang: "th", TargetLang: "km"}); err == nil {
		t.Error("empty text should fail")
	}
	if m.translateCount() != before {
		t.Error("invalid requests reached the server")
	}
}

func TestTranslate_ConcurrentRepliesInOrder(t *testing.T) {
	m := newMockServer(t)
	ch := dial(t, m)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Translate(context.Background(), ch, TranslateRequest{Text: "a", SourceLang: "th", TargetLang: "km"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Translate() error = %v", err)
	}
}

func TestUnknownWordsReport(t *testing.T) {
	m := newMockServer(t)
	ch := dial(t, m)

	words, err := UnknownWordsReport(context.Background(), ch, "th")
	if err != nil {
		t.Fatalf("UnknownWordsReport() error = %v", err)
	}
	want := []UnknownWord{{"ปิ๊ก", 5}, {"กาด", 3}, {"เจ้า", 3}}
	if len(words) != len(want) {
		t.Fatalf("words = %+v", words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("words[%d] = %+v, want %+v", i, words[i], want[i])
		}
	}

	words, err = UnknownWordsReport(context.Background(), ch, "km")
	if err != nil || len(words) != 2 || words[0].Count != 1 {
		t.Errorf("list report = %+v, %v", words, err)
	}
}

func TestSaveUnknownWordsReport(t *testing.T) {
	m := newMockServer(t)
	ch := dial(t, m)

	msg, err := SaveUnknownWordsReport(context.Background(), ch, "km", "")
	if err != nil || msg != "Report saved to unknown_words_km.csv" {
		t.Errorf("SaveUnknownWordsReport() = %q, %v", msg, err)
	}
}

func TestChannel_HandshakeHeader(t *testing.T) {
	m := newMockServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Dial(ctx, m.wsURL(), Options{Header: http.Header{"Authorization": {"Bearer tok"}}})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", m.auth)
	}
}

func TestChannel_OnceReplyCancelDoesNotStealReply(t *testing.T) {
	m := newMockServer(t)
	ch := dial(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ch.OnceReply(ctx, "pong"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("OnceReply() error = %v", err)
	}

	reply, err := ch.request(context.Background(), "ping", nil, "pong")
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}
	if reply.Event != "pong" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestChannel_DisconnectFailsWaiters(t *testing.T) {
	m := newMockServer(t)
	ch := dial(t, m)

	_, err := ch.request(context.Background(), "drop", nil, "never")
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	waitFor(t, func() bool { return ch.State() == StateDisconnected })

	if err := ch.Send(context.Background(), "ping", nil); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() after disconnect = %v", err)
	}
	if _, err := Translate(context.Background(), ch, TranslateRequest{Text: "a", SourceLang: "th", TargetLang: "km"}); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Translate() after disconnect = %v", err)
	}
}

func TestChannel_Close(t *testing.T) {
	m := newMockServer(t)
	ch := dial(t, m)

	errc := make(chan error, 1)
	go func() {
		_, err := ch.OnceReply(context.Background(), "never")
		errc <- err
	}()
	waitFor(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.waiters["never"]) == 1
	})

	ch.Close()
	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Errorf("pending waiter got %v, want ErrClosed", err)
	}
	if ch.State() != StateClosed {
		t.Errorf("state = %v", ch.State())
	}
	if err := ch.Send(context.Background(), "ping", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v", err)
	}
}

func TestDial_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), Options{DialRetries: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ch.Close()
	if got := calls.Load(); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}
}

func TestDial_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), Options{DialRetries: 3, RetryDelay: time.Millisecond})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Dial() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("dial attempts = %d, want 1", got)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateConnected:    "connected",
		StateDisconnected: "disconnected",
		StateClosed:       "closed",
		State(9):          "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
