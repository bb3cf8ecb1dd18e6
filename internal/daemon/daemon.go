// Package daemon keeps a user session alive in the background: it restores
// the stored session, refreshes it on schedule, clears the audio cache when
// the session ends and follows config file changes.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lannaspeech/lanna/internal/audiocache"
	"github.com/lannaspeech/lanna/internal/bus"
	"github.com/lannaspeech/lanna/internal/config"
	"github.com/lannaspeech/lanna/internal/notify"
	"github.com/lannaspeech/lanna/internal/session"
)

const requestTimeout = 15 * time.Second

type Options struct {
	Paths    bus.Paths
	Session  *session.Manager
	Cache    *audiocache.Cache
	Config   *config.Manager // optional; enables hot reload
	Notifier notify.Notifier
}

type Daemon struct {
	paths    bus.Paths
	session  *session.Manager
	cache    *audiocache.Cache
	config   *config.Manager
	notifier notify.Notifier

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
}

func New(opts Options) *Daemon {
	if opts.Notifier == nil {
		opts.Notifier = notify.Desktop{}
	}
	if opts.Cache == nil {
		opts.Cache = audiocache.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		paths:    opts.Paths,
		session:  opts.Session,
		cache:    opts.Cache,
		config:   opts.Config,
		notifier: opts.Notifier,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the control socket accepts commands.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Stop asks Run to return.
func (d *Daemon) Stop() { d.cancel() }

func (d *Daemon) Run() error {
	if err := d.paths.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := d.paths.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := d.paths.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.paths.RemovePidFile()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, shutting down gracefully", sig)
			d.cancel()
		case <-d.ctx.Done():
		}
	}()

	// Close the listener when context is done
	go func() {
		<-d.ctx.Done()
		ln.Close()
	}()

	go d.cache.Watch(d.ctx, d.session.Subscribe())

	if d.config != nil {
		d.config.OnChange(d.applyConfig)
		if err := d.config.StartWatching(d.ctx); err != nil {
			log.Printf("Config watching disabled: %v", err)
		} else {
			defer d.config.Stop()
		}
	}

	startCtx, cancel := context.WithTimeout(d.ctx, requestTimeout)
	if err := d.session.Start(startCtx); err != nil {
		log.Printf("Session restore failed: %v", err)
		d.notifier.Error(fmt.Sprintf("Could not reach the server: %v", err))
	}
	cancel()

	log.Printf("Daemon started, listening on %s", d.paths.Sock())
	close(d.ready)

	for {
		c, err := ln.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				log.Printf("Shutdown requested")
				return nil
			}
			log.Printf("Accept error: %v", err)
			return fmt.Errorf("accept failed: %w", err)
		}
		go d.handle(c)
	}
}

// applyConfig carries reloadable settings over to the running session.
func (d *Daemon) applyConfig(prev, next *config.Config) {
	if prev.Session.RefreshInterval != next.Session.RefreshInterval {
		interval := next.Session.RefreshInterval
		if interval == 0 {
			interval = -1
		}
		log.Printf("Config changed: refresh interval %v -> %v", prev.Session.RefreshInterval, next.Session.RefreshInterval)
		d.session.SetRefreshInterval(interval)
	}
	if prev.Server.BaseURL != next.Server.BaseURL {
		log.Printf("Config changed: base_url takes effect after a daemon restart")
	}
}

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		log.Printf("Client read error: %v", err)
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdStatus:
		fmt.Fprintf(c, "STATUS %s\n", d.status())
	case bus.CmdRefresh:
		ctx, cancel := context.WithTimeout(d.ctx, requestTimeout)
		defer cancel()
		if _, err := d.session.Refresh(ctx); err != nil {
			fmt.Fprintf(c, "ERR refresh failed: %v\n", oneLine(err))
			return
		}
		fmt.Fprint(c, "OK refreshed\n")
	case bus.CmdLogout:
		ctx, cancel := context.WithTimeout(d.ctx, requestTimeout)
		defer cancel()
		if err := d.session.Logout(ctx); err != nil {
			log.Printf("Logout: %v", err)
		}
		d.cache.Clear()
		fmt.Fprint(c, "OK logged_out\n")
	case bus.CmdCache:
		if _, ok := d.session.Session(); !ok {
			fmt.Fprint(c, "ERR not signed in\n")
			return
		}
		var patch audiocache.Entry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line[1:])), &patch); err != nil {
			fmt.Fprintf(c, "ERR bad entry: %v\n", oneLine(err))
			return
		}
		if patch.IsZero() {
			fmt.Fprint(c, "ERR empty entry\n")
			return
		}
		d.cache.Update(patch)
		fmt.Fprint(c, "OK cached\n")
	case bus.CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s\n", bus.ProtoVer)
	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		log.Printf("Unknown command: %c", cmd)
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

func (d *Daemon) status() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session=%s", d.session.State())
	if sess, ok := d.session.Session(); ok {
		if sess.ActorName != "" {
			fmt.Fprintf(&b, " user=%s", strings.ReplaceAll(sess.ActorName, " ", "_"))
		}
		if !sess.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, " expires=%s", sess.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	if e := d.cache.Get(); !e.IsZero() {
		name := e.FileName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&b, " cached=%s", strings.ReplaceAll(name, " ", "_"))
		if len(e.Audio) > 0 {
			fmt.Fprintf(&b, " audio_bytes=%d", len(e.Audio))
		}
		if e.Transcription != "" {
			b.WriteString(" transcribed")
		}
		if e.Translation != "" {
			b.WriteString(" translated")
		}
	}
	return b.String()
}

func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", " ")
}
