package tui

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/lannaspeech/lanna/internal/config"
	"github.com/lannaspeech/lanna/internal/language"
)

// ConfigureResult holds the configuration result from the TUI
type ConfigureResult struct {
	Config    *config.Config
	Cancelled bool
}

type ConfigSection string

const (
	SectionServer        ConfigSection = "server"
	SectionSession       ConfigSection = "session"
	SectionTranslation   ConfigSection = "translation"
	SectionNotifications ConfigSection = "notifications"
	SectionAdvanced      ConfigSection = "advanced"
	SectionSaveExit      ConfigSection = "save_exit"
	SectionDiscardExit   ConfigSection = "discard_exit"
)

// Configure runs the menu-based editor on a copy of cfg.
func Configure(cfg *config.Config) (*ConfigureResult, error) {
	edited := *cfg
	edited.Upload.AllowedExtensions = append([]string(nil), cfg.Upload.AllowedExtensions...)

	for {
		clearScreen()
		fmt.Println(Logo())
		fmt.Println()

		section, err := selectSection(&edited)
		if err != nil {
			return &ConfigureResult{Cancelled: true}, nil
		}

		switch section {
		case SectionSaveExit:
			if err := edited.Validate(); err != nil {
				fmt.Println(StyleError.Render(err.Error()))
				if _, err := Confirm("Go back and fix it?", ""); err != nil {
					return &ConfigureResult{Cancelled: true}, nil
				}
				continue
			}
			fmt.Println()
			fmt.Println(StyleHeader.Render("Configuration Summary"))
			for _, line := range summaryLines(&edited) {
				fmt.Println("  " + line)
			}
			fmt.Println()
			confirmed, err := Confirm("Save this configuration?", "")
			if err != nil {
				return &ConfigureResult{Cancelled: true}, nil
			}
			if confirmed {
				return &ConfigureResult{Config: &edited}, nil
			}

		case SectionDiscardExit:
			return &ConfigureResult{Cancelled: true}, nil

		case SectionServer:
			_ = editServer(&edited)
		case SectionSession:
			_ = editSession(&edited)
		case SectionTranslation:
			_ = editTranslation(&edited)
		case SectionNotifications:
			_ = editNotifications(&edited)
		case SectionAdvanced:
			_ = editAdvanced(&edited)
		}
	}
}

func sectionLabel(cfg *config.Config, s ConfigSection) string {
	switch s {
	case SectionServer:
		return fmt.Sprintf("Server (%s)", cfg.Server.BaseURL)
	case SectionSession:
		return fmt.Sprintf("Session (%s store)", cfg.Session.Store)
	case SectionTranslation:
		return fmt.Sprintf("Translation (%s → %s)", language.Label(cfg.Translation.SourceLang), language.Label(cfg.Translation.TargetLang))
	case SectionNotifications:
		if !cfg.Notifications.Enabled {
			return "Notifications (off)"
		}
		return fmt.Sprintf("Notifications (%s)", cfg.Notifications.Type)
	case SectionAdvanced:
		return "Advanced Settings"
	case SectionSaveExit:
		return "Save & Exit"
	case SectionDiscardExit:
		return "Discard & Exit"
	}
	return string(s)
}

func selectSection(cfg *config.Config) (ConfigSection, error) {
	sections := []ConfigSection{
		SectionServer, SectionSession, SectionTranslation, SectionNotifications,
		SectionAdvanced, SectionSaveExit, SectionDiscardExit,
	}
	options := make([]huh.Option[ConfigSection], len(sections))
	for i, s := range sections {
		options[i] = huh.NewOption(sectionLabel(cfg, s), s)
	}

	var selected ConfigSection
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ConfigSection]().
				Title("Configuration Menu").
				Description("↑/↓ navigate • enter select • esc cancel").
				Options(options...).
				Value(&selected),
		),
	).WithTheme(theme()).Run()
	return selected, err
}

func summaryLines(cfg *config.Config) []string {
	line := func(label, value string) string {
		return fmt.Sprintf("%s %s", StyleLabel.Render(label+":"), value)
	}
	lines := []string{
		line("Server", cfg.Server.BaseURL),
		line("Realtime", orDash(cfg.Server.RealtimeURL)),
		line("Token store", cfg.Session.Store+" "+cfg.Session.StorePath),
		line("Auto refresh", durationOrOff(cfg.Session.RefreshInterval)),
		line("Translation", fmt.Sprintf("%s → %s (debounce %v)", cfg.Translation.SourceLang, cfg.Translation.TargetLang, cfg.Translation.Debounce)),
		line("Upload limit", humanize.Bytes(uint64(cfg.Upload.MaxFileSize))),
		line("Timeouts", fmt.Sprintf("request %v, upload %v, profile %v", cfg.HTTP.Timeout, cfg.HTTP.UploadTimeout, cfg.HTTP.ProfileTimeout)),
		line("Analytics retries", fmt.Sprintf("%d × %v", cfg.Analytics.Retries, cfg.Analytics.RetryDelay)),
	}
	if cfg.Notifications.Enabled {
		lines = append(lines, line("Notifications", cfg.Notifications.Type))
	} else {
		lines = append(lines, line("Notifications", "off"))
	}
	return lines
}

func editServer(cfg *config.Config) error {
	base, realtime := cfg.Server.BaseURL, cfg.Server.RealtimeURL
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("Where the Lanna REST API is served, including the /api prefix").
				Value(&base).
				Validate(func(s string) error { return checkURL(s, "http", "https") }),
			huh.NewInput().
				Title("Realtime URL").
				Description("WebSocket endpoint for live translation; leave empty to disable").
				Value(&realtime).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return checkURL(s, "ws", "wss")
				}),
		),
	).WithTheme(theme()).Run()
	if err != nil {
		return err
	}
	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	cfg.Server.RealtimeURL = strings.TrimSpace(realtime)
	return nil
}

func editSession(cfg *config.Config) error {
	store, path := cfg.Session.Store, cfg.Session.StorePath
	interval := cfg.Session.RefreshInterval.String()
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Token store").
				Options(
					huh.NewOption("File (JSON, 0600)", "file"),
					huh.NewOption("SQLite database", "sqlite"),
					huh.NewOption("Memory (forget on exit)", "memory"),
				).
				Value(&store),
			huh.NewInput().
				Title("Store path").
				Value(&path),
			huh.NewInput().
				Title("Auto refresh interval").
				Description("e.g. 15m; 0 disables").
				Value(&interval).
				Validate(validDuration),
		),
	).WithTheme(theme()).Run()
	if err != nil {
		return err
	}
	cfg.Session.Store = store
	cfg.Session.StorePath = strings.TrimSpace(path)
	cfg.Session.RefreshInterval, _ = parseDuration(interval)
	return nil
}

func editTranslation(cfg *config.Config) error {
	src, err := SelectLanguage("Translate from", cfg.Translation.SourceLang)
	if err != nil {
		return err
	}
	tgt := cfg.Translation.TargetLang
	if tgt == src {
		for _, code := range language.Codes() {
			if code != src {
				tgt = code
				break
			}
		}
	}
	debounce := cfg.Translation.Debounce.String()
	if err := run(
		huh.NewInput().
			Title("Live translation debounce").
			Description("Pause after typing before a request is sent").
			Value(&debounce).
			Validate(validDuration),
	); err != nil {
		return err
	}
	cfg.Translation.SourceLang = src
	cfg.Translation.TargetLang = tgt
	cfg.Translation.Debounce, _ = parseDuration(debounce)
	return nil
}

func editNotifications(cfg *config.Config) error {
	enabled := cfg.Notifications.Enabled
	if err := run(
		huh.NewConfirm().
			Title("Enable notifications?").
			Description("Shown when a session expires or the server cannot be reached").
			Value(&enabled),
	); err != nil {
		return err
	}
	cfg.Notifications.Enabled = enabled
	if !enabled {
		return nil
	}

	kind := cfg.Notifications.Type
	if kind == "" {
		kind = "desktop"
	}
	if err := run(
		huh.NewSelect[string]().
			Title("Notification Type").
			Options(
				huh.NewOption("Desktop notifications (notify-send)", "desktop"),
				huh.NewOption("Log to console only", "log"),
				huh.NewOption("None (silent)", "none"),
			).
			Value(&kind),
	); err != nil {
		return err
	}
	cfg.Notifications.Type = kind
	return nil
}

func editAdvanced(cfg *config.Config) error {
	timeout := cfg.HTTP.Timeout.String()
	upload := cfg.HTTP.UploadTimeout.String()
	maxSize := strconv.FormatInt(cfg.Upload.MaxFileSize, 10)
	rps := strconv.FormatFloat(cfg.HTTP.RequestsPerSecond, 'f', -1, 64)
	retries := strconv.Itoa(cfg.Analytics.Retries)

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Request timeout").Value(&timeout).Validate(validDuration),
			huh.NewInput().Title("Upload timeout").Value(&upload).Validate(validDuration),
			huh.NewInput().Title("Max upload size (bytes)").Value(&maxSize).Validate(validPositiveInt),
			huh.NewInput().Title("Requests per second").Description("0 for unlimited").Value(&rps).Validate(validNonNegativeFloat),
			huh.NewInput().Title("Analytics retries").Value(&retries).Validate(validNonNegativeInt),
		),
	).WithTheme(theme()).Run()
	if err != nil {
		return err
	}

	cfg.HTTP.Timeout, _ = parseDuration(timeout)
	cfg.HTTP.UploadTimeout, _ = parseDuration(upload)
	cfg.Upload.MaxFileSize, _ = strconv.ParseInt(strings.TrimSpace(maxSize), 10, 64)
	cfg.HTTP.RequestsPerSecond, _ = strconv.ParseFloat(strings.TrimSpace(rps), 64)
	cfg.Analytics.Retries, _ = strconv.Atoi(strings.TrimSpace(retries))
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func validDuration(s string) error {
	d, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("not a duration (try 30s or 15m)")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validPositiveInt(s string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func validNonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fmt.Errorf("must be zero or more")
	}
	return nil
}

func validNonNegativeFloat(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return fmt.Errorf("must be zero or more")
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	for _, scheme := range schemes {
		if rest, ok := strings.CutPrefix(raw, scheme+"://"); ok && rest != "" {
			return nil
		}
	}
	return fmt.Errorf("must start with %s://", strings.Join(schemes, ":// or "))
}

func durationOrOff(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// clearScreen clears the terminal screen
func clearScreen() {
	output := termenv.NewOutput(os.Stdout)
	output.ClearScreen()
}
