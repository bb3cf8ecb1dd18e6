package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lannaspeech/lanna/internal/config"
	"github.com/lannaspeech/lanna/internal/session"
	"github.com/lannaspeech/lanna/internal/tokenstore"
	"github.com/lannaspeech/lanna/internal/tui"
)

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.execute(context.Background(), a.root()); err != nil {
		a.printer.Error(err)
		os.Exit(1)
	}
}

// app holds what every command needs once flags are parsed.
type app struct {
	configPath string
	verbose    bool

	in      io.Reader
	printer *tui.Printer

	cfg   *config.Config
	store tokenstore.Store
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, printer: tui.NewPrinter(out, errOut)}
}

func (a *app) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "lanna",
		Short:         "Thai and Kham Mueang speech transcription and translation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log requests and session changes to stderr")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: user config dir/lanna/config.toml)")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.refreshCmd(),
		a.registerCmd(),
		a.profileCmd(),
		a.passwordCmd(),
		a.accountCmd(),
		a.transcribeCmd(),
		a.recordCmd(),
		a.translateCmd(),
		a.unknownWordsCmd(),
		a.pingCmd(),
		a.doctorCmd(),
		a.adminCmd(),
		a.serveCmd(),
		a.daemonCmd(),
		a.configureCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.verbose {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	path, err := a.resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg
	a.configPath = path

	// configure must be able to open and repair an invalid file
	if cmd.Name() == "configure" {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !needsStore(cmd) {
		return nil
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	a.store = store
	return nil
}

// needsStore reports whether cmd talks to the service. The daemon control
// commands and configure only touch local files.
func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "daemon", "configure":
			return false
		}
	}
	return true
}

func (a *app) resolveConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.GetConfigPath()
}

// execute runs root and releases the token store afterwards, whether or not
// the command failed. Cobra skips post-run hooks on error.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	defer a.close()
	return root.ExecuteContext(ctx)
}

func (a *app) close() {
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Printf("Token store: close: %v", err)
		}
	}
}

// newSession builds a session manager for one command run. The background
// refresh timer is left off; a 401 still refreshes through the client.
func (a *app) newSession(actor tokenstore.ActorKind) (*session.Manager, error) {
	opts := a.cfg.ToSessionOptions(actor, a.store)
	opts.RefreshInterval = -1
	return session.New(opts)
}

// restore validates the stored session for actor.
func (a *app) restore(ctx context.Context, actor tokenstore.ActorKind) (*session.Manager, error) {
	m, err := a.newSession(actor)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// requireSession is restore for commands that cannot run signed out.
func (a *app) requireSession(ctx context.Context, actor tokenstore.ActorKind) (*session.Manager, error) {
	m, err := a.restore(ctx, actor)
	if err != nil {
		return nil, err
	}
	if m.State() != session.Authenticated {
		m.Close()
		return nil, notSignedIn(actor)
	}
	return m, nil
}

func notSignedIn(actor tokenstore.ActorKind) error {
	if actor == tokenstore.Admin {
		return fmt.Errorf("not signed in as admin; run \"lanna login --admin\"")
	}
	return fmt.Errorf("not signed in; run \"lanna login\"")
}

func actorFor(isAdmin bool) tokenstore.ActorKind {
	if isAdmin {
		return tokenstore.Admin
	}
	return tokenstore.User
}

// readSecret reads the first line of stdin for --password-stdin.
func (a *app) readSecret() (string, error) {
	data, err := io.ReadAll(io.LimitReader(a.in, 4096))
	if err != nil {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return "", fmt.Errorf("no password on stdin")
	}
	return line, nil
}
