package main

import (
	"github.com/spf13/cobra"

	"github.com/lannaspeech/lanna/internal/deps"
	"github.com/lannaspeech/lanna/internal/tokenstore"
)

func (a *app) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, server and helper programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printer.Header("Configuration")
			a.printer.Field("file", a.configPath)
			a.printer.Field("server", a.cfg.Server.BaseURL)
			a.printer.Field("realtime", a.cfg.Server.RealtimeURL)
			a.printer.Field("token store", a.cfg.Session.Store+" "+a.cfg.Session.StorePath)
			for _, actor := range []tokenstore.ActorKind{tokenstore.User, tokenstore.Admin} {
				state := "no tokens"
				if pair, ok := a.store.Get(actor); ok {
					state = "access " + tokenstore.MaskToken(pair.AccessToken)
				}
				a.printer.Field(actor.String()+" session", state)
			}
			a.printer.Println()

			a.printer.Header("Server")
			svc, done, err := a.newService()
			if err != nil {
				return err
			}
			defer done()
			if msg, err := svc.Ping(cmd.Context()); err != nil {
				a.printer.Error(err)
			} else {
				a.printer.Success("%s", msg)
			}
			a.printer.Println()

			a.printer.Header("Helper programs")
			table := a.printer.Table("program", "used for", "status")
			for _, s := range deps.CheckAll() {
				status := "missing"
				if s.Installed {
					status = s.Path
					if s.Version != "" {
						status += " (" + s.Version + ")"
					}
				}
				table.AddRow(s.Name, s.Purpose, status)
			}
			if err := table.Render(); err != nil {
				return err
			}
			a.printer.Println()
			a.printer.Hint("Transcribing files and translating need none of these.")
			return nil
		},
	}
}
