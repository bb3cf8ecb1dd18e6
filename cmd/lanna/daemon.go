package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lannaspeech/lanna/internal/audiocache"
	"github.com/lannaspeech/lanna/internal/bus"
	"github.com/lannaspeech/lanna/internal/config"
	"github.com/lannaspeech/lanna/internal/daemon"
	"github.com/lannaspeech/lanna/internal/session"
	"github.com/lannaspeech/lanna/internal/tokenstore"
	"github.com/lannaspeech/lanna/internal/tui"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon that keeps your session signed in",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := bus.DefaultPaths()
			if err != nil {
				return err
			}
			cm, err := config.NewManager(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to create config manager: %w", err)
			}
			cfg := cm.GetConfig()

			m, err := session.New(cfg.ToSessionOptions(tokenstore.User, a.store))
			if err != nil {
				return err
			}
			defer m.Close()

			d := daemon.New(daemon.Options{
				Paths:    paths,
				Session:  m,
				Cache:    audiocache.New(),
				Config:   cm,
				Notifier: cfg.Notifier(),
			})
			return d.Run()
		},
	}
}

func (a *app) daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control a running lanna serve",
	}

	send := func(c byte) (string, map[string]string, error) {
		paths, err := bus.DefaultPaths()
		if err != nil {
			return "", nil, err
		}
		resp, err := paths.SendCommand(c)
		if err != nil {
			return "", nil, fmt.Errorf("daemon not reachable (is \"lanna serve\" running?): %w", err)
		}
		return bus.ParseReply(resp)
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's session",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, fields, err := send(bus.CmdStatus)
			if err != nil {
				return err
			}
			_, version, err := send(bus.CmdVersion)
			if err == nil {
				fields["proto"] = version["proto"]
			}
			a.printStatus(fields)
			return nil
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the daemon's tokens now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := send(bus.CmdRefresh); err != nil {
				return err
			}
			a.printer.Success("Tokens refreshed")
			return nil
		},
	}

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Sign the daemon's session out",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := send(bus.CmdLogout); err != nil {
				return err
			}
			a.printer.Success("Signed out")
			return nil
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := send(bus.CmdQuit); err != nil {
				return err
			}
			a.printer.Success("Daemon stopping")
			return nil
		},
	}

	cmd.AddCommand(status, refresh, logout, stop)
	return cmd
}

func (a *app) printStatus(fields map[string]string) {
	a.printer.Header("Daemon")
	a.printer.Field("session", fields["session"])
	a.printer.Field("user", fields["user"])
	if exp := fields["expires"]; exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			exp = t.Local().Format(time.DateTime)
		}
		a.printer.Field("token expires", exp)
	}
	if cached, ok := fields["cached"]; ok {
		var parts []string
		if n, err := strconv.ParseUint(fields["audio_bytes"], 10, 64); err == nil {
			parts = append(parts, "audio "+humanize.Bytes(n))
		}
		for _, k := range []string{"transcribed", "translated"} {
			if _, ok := fields[k]; ok {
				parts = append(parts, k)
			}
		}
		if len(parts) > 0 {
			cached += " (" + strings.Join(parts, ", ") + ")"
		}
		a.printer.Field("working on", cached)
	}
	a.printer.Field("protocol", fields["proto"])

	var extra []string
	for k := range fields {
		switch k {
		case "session", "user", "expires", "cached", "audio_bytes", "transcribed", "translated", "proto":
		default:
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		a.printer.Field(k, fields[k])
	}
}

func (a *app) configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive configuration setup",
		Long: `Interactive configuration editor for lanna.
This covers:
- The API and realtime server addresses
- Where session tokens are kept and how often they are refreshed
- Default translation languages and the live translation debounce
- Notifications, timeouts and upload limits`,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := tui.Configure(a.cfg)
			if err != nil {
				return fmt.Errorf("configuration editor error: %w", err)
			}
			if result.Cancelled {
				a.printer.Println("Configuration cancelled.")
				return nil
			}
			if err := result.Config.Validate(); err != nil {
				return err
			}
			if err := config.Save(a.configPath, result.Config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			a.printer.Success("Configuration saved to %s", a.configPath)
			if strings.HasPrefix(result.Config.Server.BaseURL, "http://") && !strings.Contains(result.Config.Server.BaseURL, "localhost") {
				a.printer.Warn("The server address is not using https; tokens are sent in clear text.")
			}
			a.printer.Hint("A running \"lanna serve\" picks up the new settings automatically.")
			return nil
		},
	}
}
