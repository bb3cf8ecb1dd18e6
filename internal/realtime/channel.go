// Package realtime is the websocket channel used for low-latency translation.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

var (
	ErrDisconnected = errors.New("realtime: connection lost")
	ErrClosed       = errors.New("realtime: channel closed")
)

const (
	DefaultDialRetries      = 3
	DefaultRetryDelay       = 500 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second
)

type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// envelope is the frame format in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Reply is one server event delivered to a waiter.
type Reply struct {
	Event string
	Data  json.RawMessage
}

func (r Reply) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", r.Event)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.Event, err)
	}
	return nil
}

type Options struct {
	Header           http.Header
	DialRetries      int
	RetryDelay       time.Duration
	HandshakeTimeout time.Duration
}

type result struct {
	reply Reply
	err   error
}

// waiter receives exactly one result.
type waiter struct {
	event string
	ch    chan result
}

// Channel is a websocket connection with one-shot reply waiters per event.
// Waiters for the same event are served in registration order.
type Channel struct {
	conn *websocket.Conn
	url  string

	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	err     error
	waiters map[string][]*waiter

	done chan struct{}
}

// Dial connects to url, retrying failed dials with exponential backoff.
// A handshake rejected with a 4xx status is not retried.
func Dial(ctx context.Context, url string, opts Options) (*Channel, error) {
	if opts.DialRetries < 0 {
		opts.DialRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.RetryDelay

	log.Printf("realtime: connecting to %s", url)
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
		if err == nil {
			return conn, nil
		}
		if resp != nil {
			log.Printf("realtime: dial failed with status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(fmt.Errorf("websocket handshake: %s", resp.Status))
			}
		}
		return nil, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(opts.DialRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("realtime: dial error: %v, retrying in %v", err, next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	log.Printf("realtime: connected to %s", url)

	c := &Channel{
		conn:    conn,
		url:     url,
		state:   StateConnected,
		waiters: make(map[string][]*waiter),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the connection, or nil while connected.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the read loop has stopped.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send writes one event. payload is marshalled to JSON.
func (c *Channel) Send(ctx context.Context, event string, payload any) error {
	if err := c.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if cerr := c.Err(); cerr != nil {
			return cerr
		}
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// OnceReply waits for the next event of the given name.
func (c *Channel) OnceReply(ctx context.Context, event string) (Reply, error) {
	w, err := c.expect(event)
	if err != nil {
		return Reply{}, err
	}
	return c.wait(ctx, w)
}

// request registers the reply waiter before sending, so a fast reply cannot
// be missed.
func (c *Channel) request(ctx context.Context, event string, payload any, replyEvent string) (Reply, error) {
	w, err := c.expect(replyEvent)
	if err != nil {
		return Reply{}, err
	}
	if err := c.Send(ctx, event, payload); err != nil {
		c.remove(w)
		return Reply{}, err
	}
	return c.wait(ctx, w)
}

func (c *Channel) expect(event string) (*waiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	w := &waiter{event: event, ch: make(chan result, 1)}
	c.waiters[event] = append(c.waiters[event], w)
	return w, nil
}

func (c *Channel) wait(ctx context.Context, w *waiter) (Reply, error) {
	select {
	case r := <-w.ch:
		return r.reply, r.err
	case <-ctx.Done():
		c.remove(w)
		return Reply{}, ctx.Err()
	}
}

func (c *Channel) remove(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.waiters[w.event]
	for i, q := range queue {
		if q == w {
			c.waiters[w.event] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(c.waiters[w.event]) == 0 {
		delete(c.waiters, w.event)
	}
}

func (c *Channel) readLoop() {
	defer close(c.done)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(StateDisconnected, fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			log.Printf("realtime: ignoring malformed frame: %q", truncate(message, 120))
			continue
		}
		c.deliver(Reply{Event: env.Event, Data: env.Data})
	}
}

func (c *Channel) deliver(r Reply) {
	c.mu.Lock()
	queue := c.waiters[r.Event]
	if len(queue) == 0 {
		c.mu.Unlock()
		log.Printf("realtime: no waiter for %s, dropping", r.Event)
		return
	}
	w := queue[0]
	if len(queue) == 1 {
		delete(c.waiters, r.Event)
	} else {
		c.waiters[r.Event] = queue[1:]
	}
	c.mu.Unlock()
	w.ch <- result{reply: r}
}

// fail moves the channel out of Connected and fails every waiter with err.
// The first failure wins.
func (c *Channel) fail(state State, err error) {
	c.mu.Lock()
	if c.err != nil {
		if state == StateClosed {
			c.state = StateClosed
		}
		c.mu.Unlock()
		return
	}
	c.state = state
	c.err = err
	waiters := c.waiters
	c.waiters = make(map[string][]*waiter)
	c.mu.Unlock()

	if state == StateDisconnected {
		log.Printf("realtime: %v", err)
	}
	for _, queue := range waiters {
		for _, w := range queue {
			w.ch <- result{err: err}
		}
	}
}

// Close sends a close frame, shuts the connection and waits for the read
// loop. Pending waiters get ErrClosed.
func (c *Channel) Close() error {
	c.fail(StateClosed, ErrClosed)

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
