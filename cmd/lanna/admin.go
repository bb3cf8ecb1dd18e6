package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lannaspeech/lanna/internal/admin"
	"github.com/lannaspeech/lanna/internal/tokenstore"
	"github.com/lannaspeech/lanna/internal/tui"
)

// adminClient restores the administrator session and wraps its client.
func (a *app) adminClient(ctx context.Context) (*admin.Client, func(), error) {
	m, err := a.requireSession(ctx, tokenstore.Admin)
	if err != nil {
		return nil, nil, err
	}
	c, err := admin.New(m.Client(), admin.Options{
		Retries:    a.cfg.Analytics.Retries,
		RetryDelay: a.cfg.Analytics.RetryDelay,
	})
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	return c, m.Close, nil
}

// withAdmin adapts a command body that needs the admin client.
func (a *app) withAdmin(run func(cmd *cobra.Command, args []string, c *admin.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, done, err := a.adminClient(cmd.Context())
		if err != nil {
			return err
		}
		defer done()
		return run(cmd, args, c)
	}
}

func (a *app) adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Back-office commands (requires lanna login --admin)",
	}
	cmd.AddCommand(
		a.adminUsersCmd(),
		a.adminAudioCmd(),
		a.adminAnalyticsCmd(),
		a.adminCreateCmd(),
	)
	return cmd
}

func pageFlags(flags *pflag.FlagSet, p *admin.Page) {
	flags.IntVar(&p.Page, "page", 0, "Page number")
	flags.IntVar(&p.PerPage, "per-page", 0, "Items per page")
	flags.StringVar(&p.SortBy, "sort", "", "Sort field")
	flags.StringVar(&p.Order, "order", "", "Sort order (asc or desc)")
}

func (a *app) adminUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	var page admin.Page
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			users, err := c.ListUsers(cmd.Context(), page)
			if err != nil {
				return err
			}
			return a.printUsers(users)
		}),
	}
	pageFlags(list.Flags(), &page)

	get := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			u, err := c.GetUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printUser(u)
			return nil
		}),
	}

	var (
		newName, newEmail string
		active            bool
	)
	update := &cobra.Command{
		Use:   "update <user-id>",
		Short: "Change a user's username, email or active flag",
		Args:  cobra.ExactArgs(1),
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			var upd admin.UserUpdate
			if cmd.Flags().Changed("username") {
				upd.Username = &newName
			}
			if cmd.Flags().Changed("email") {
				upd.Email = &newEmail
			}
			if cmd.Flags().Changed("active") {
				upd.IsActive = &active
			}
			u, err := c.UpdateUser(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			a.printer.Success("User %s updated", args[0])
			a.printUser(u)
			return nil
		}),
	}
	update.Flags().StringVar(&newName, "username", "", "New username")
	update.Flags().StringVar(&newEmail, "email", "", "New email address")
	update.Flags().BoolVar(&active, "active", true, "Whether the account is active")

	var yes bool
	del := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			if !yes {
				ok, err := tui.Confirm(fmt.Sprintf("Delete user %s?", args[0]), "Their recordings are removed too.")
				if err != nil {
					return err
				}
				if !ok {
					a.printer.Println("Cancelled.")
					return nil
				}
			}
			if err := c.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("User %s deleted", args[0])
			return nil
		}),
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation")

	var (
		search         admin.SearchParams
		minAge, maxAge int
		searchActive   bool
	)
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search users by name or email, with optional filters",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			if len(args) == 1 {
				search.Query = args[0]
			}
			flags := cmd.Flags()
			if flags.Changed("min-age") {
				search.MinAge = &minAge
			}
			if flags.Changed("max-age") {
				search.MaxAge = &maxAge
			}
			if flags.Changed("active") {
				search.IsActive = &searchActive
			}

			var (
				users admin.UserList
				err   error
			)
			if search.MinAge == nil && search.MaxAge == nil && search.IsActive == nil && search.Gender == "" {
				if search.Query == "" {
					return fmt.Errorf("give a query or at least one filter")
				}
				users, err = c.SearchUsers(cmd.Context(), search.Query, search.Page)
			} else {
				users, err = c.AdvancedSearch(cmd.Context(), search)
			}
			if err != nil {
				return err
			}
			return a.printUsers(users)
		}),
	}
	searchCmd.Flags().IntVar(&minAge, "min-age", 0, "Minimum age")
	searchCmd.Flags().IntVar(&maxAge, "max-age", 0, "Maximum age")
	searchCmd.Flags().StringVar(&search.Gender, "gender", "", "Gender")
	searchCmd.Flags().BoolVar(&searchActive, "active", true, "Only active (or, with =false, inactive) users")
	pageFlags(searchCmd.Flags(), &search.Page)

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show user counts",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			s, err := c.UserStats(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Header("Users")
			a.printer.Field("total", humanize.Comma(int64(s.TotalUsers)))
			a.printer.Field("active", humanize.Comma(int64(s.ActiveUsers)))
			a.printer.Field("inactive", humanize.Comma(int64(s.InactiveUsers)))
			return nil
		}),
	}

	var audioPage admin.Page
	audio := &cobra.Command{
		Use:   "audio <user-id>",
		Short: "List a user's audio records",
		Args:  cobra.ExactArgs(1),
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			records, err := c.UserAudioRecords(cmd.Context(), args[0], audioPage)
			if err != nil {
				return err
			}
			return a.printAudioRecords(records)
		}),
	}
	pageFlags(audio.Flags(), &audioPage)

	cmd.AddCommand(list, get, update, del, searchCmd, stats, audio)
	return cmd
}

func (a *app) printUsers(list admin.UserList) error {
	if len(list.Users) == 0 {
		a.printer.Println("No users found.")
		return nil
	}
	table := a.printer.Table("id", "username", "email", "gender", "age", "active")
	for _, u := range list.Users {
		age := ""
		if u.Age > 0 {
			age = strconv.Itoa(u.Age)
		}
		table.AddRow(u.UserID, u.Username, u.Email, u.Gender, age, yesNo(u.IsActive))
	}
	if err := table.Render(); err != nil {
		return err
	}
	a.printPagination(list.Pagination)
	return nil
}

func (a *app) printUser(u admin.User) {
	a.printer.Header(u.Username)
	a.printer.Field("id", u.UserID)
	a.printer.Field("email", u.Email)
	a.printer.Field("gender", u.Gender)
	a.printer.Field("birth date", u.BirthDate)
	if u.Age > 0 {
		a.printer.Field("age", strconv.Itoa(u.Age))
	}
	a.printer.Field("active", yesNo(u.IsActive))
	if len(u.AudioRecords) > 0 {
		a.printer.Field("audio records", strconv.Itoa(len(u.AudioRecords)))
	}
}

func (a *app) printAudioRecords(list admin.AudioRecordList) error {
	if len(list.AudioRecords) == 0 {
		a.printer.Println("No audio records found.")
		return nil
	}
	table := a.printer.Table("id", "user", "file", "source", "rating", "duration", "created", "transcription")
	for _, r := range list.AudioRecords {
		table.AddRow(
			r.ID,
			r.UserID,
			r.FileName,
			r.Source,
			strconv.FormatFloat(r.Rating, 'f', -1, 64),
			fmt.Sprintf("%.1fs", r.Duration),
			r.CreatedAt,
			clip(r.Transcription, 40),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	a.printPagination(list.Pagination)
	return nil
}

func (a *app) printPagination(p admin.Pagination) {
	if p.Pages > 1 {
		a.printer.Hint("page %d of %d, %s total", p.CurrentPage, p.Pages, humanize.Comma(int64(p.Total)))
	}
}

func (a *app) adminAudioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audio",
		Short: "Browse and remove stored recordings",
	}

	var page admin.Page
	list := &cobra.Command{
		Use:   "list",
		Short: "List audio records",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			records, err := c.ListAudioRecords(cmd.Context(), page)
			if err != nil {
				return err
			}
			return a.printAudioRecords(records)
		}),
	}
	pageFlags(list.Flags(), &page)

	del := &cobra.Command{
		Use:   "delete <record-id>",
		Short: "Delete an audio record",
		Args:  cobra.ExactArgs(1),
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			if err := c.DeleteAudioRecord(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("Audio record %s deleted", args[0])
			return nil
		}),
	}

	var output string
	download := &cobra.Command{
		Use:   "download <record-id>",
		Short: "Save the audio of a record to a file",
		Args:  cobra.ExactArgs(1),
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			path := output
			if path == "" {
				path = "audio-" + args[0]
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			ct, err := c.StreamAudio(cmd.Context(), args[0], f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(path)
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			a.printer.Success("Saved %s (%s, %s)", path, ct, humanize.Bytes(uint64(info.Size())))
			return nil
		}),
	}
	download.Flags().StringVarP(&output, "output", "o", "", "Output file (default audio-<id>)")

	cmd.AddCommand(list, del, download)
	return cmd
}

func (a *app) adminAnalyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Usage analytics",
	}

	var (
		days       int
		start, end string
	)
	addDays := func(c *cobra.Command) {
		c.Flags().IntVar(&days, "days", admin.DefaultDays, "How many days back to cover")
	}
	addRange := func(c *cobra.Command) {
		c.Flags().StringVar(&start, "start", "", "First day (YYYY-MM-DD, default 30 days ago)")
		c.Flags().StringVar(&end, "end", "", "Last day (YYYY-MM-DD, default today)")
	}

	dashboard := &cobra.Command{
		Use:   "dashboard",
		Short: "Fetch every analytics section at once",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			from, to, err := dateRange(start, end)
			if err != nil {
				return err
			}
			d := c.Dashboard(cmd.Context(), admin.DashboardParams{Days: days, Start: from, End: to})
			if err := a.printAudioStats(d.AudioStatistics); err != nil {
				return err
			}
			if err := a.printTrend(d.TranslationTrend); err != nil {
				return err
			}
			if err := a.printActivity(d.UserActivity); err != nil {
				return err
			}
			a.printPerformance(d.Performance)
			if err := a.printSegments(d.Segments); err != nil {
				return err
			}
			if err := a.printContent(d.Content, 10); err != nil {
				return err
			}
			if d.Failed() {
				names := make([]string, 0, len(d.Errors))
				for name := range d.Errors {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					a.printer.Warn("%s: %s", name, tui.FormatError(d.Errors[name]))
				}
				return fmt.Errorf("%d of 6 dashboard sections failed", len(d.Errors))
			}
			return nil
		}),
	}
	addDays(dashboard)
	addRange(dashboard)

	audioStats := &cobra.Command{
		Use:   "audio",
		Short: "Recording counts by day, source and rating",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			from, to, err := dateRange(start, end)
			if err != nil {
				return err
			}
			stats, err := c.AudioStatistics(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return a.printAudioStats(stats)
		}),
	}
	addRange(audioStats)

	trend := &cobra.Command{
		Use:   "translations",
		Short: "Translations per day and language pair",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			t, err := c.TranslationTrend(cmd.Context(), days)
			if err != nil {
				return err
			}
			return a.printTrend(t)
		}),
	}
	addDays(trend)

	activity := &cobra.Command{
		Use:   "activity",
		Short: "Per-user activity summary",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			act, err := c.UserActivity(cmd.Context(), days)
			if err != nil {
				return err
			}
			return a.printActivity(act)
		}),
	}
	addDays(activity)

	performance := &cobra.Command{
		Use:   "performance",
		Short: "Processing time and success rates",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			p, err := c.SystemPerformance(cmd.Context(), days)
			if err != nil {
				return err
			}
			a.printPerformance(p)
			return nil
		}),
	}
	addDays(performance)

	segments := &cobra.Command{
		Use:   "segments",
		Short: "User clusters by activity",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			s, err := c.UserSegmentation(cmd.Context(), days)
			if err != nil {
				return err
			}
			return a.printSegments(s)
		}),
	}
	addDays(segments)

	var top int
	content := &cobra.Command{
		Use:   "content",
		Short: "Most frequent transcribed words",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			ca, err := c.ContentAnalysis(cmd.Context(), days)
			if err != nil {
				return err
			}
			return a.printContent(ca, top)
		}),
	}
	addDays(content)
	content.Flags().IntVarP(&top, "limit", "n", 20, "Show at most this many words")

	report := &cobra.Command{
		Use:   "report",
		Short: "Start generating the monthly report",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			id, err := c.GenerateMonthlyReport(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Success("Report generation started")
			a.printer.Field("task id", id)
			return nil
		}),
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check the analytics backend",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Success("Analytics backend is %s", h.Status)
			return nil
		}),
	}

	cmd.AddCommand(dashboard, audioStats, trend, activity, performance, segments, content, report, health)
	return cmd
}

// dateRange parses --start/--end, defaulting to the last 30 days.
func dateRange(start, end string) (time.Time, time.Time, error) {
	to := time.Now()
	if end != "" {
		t, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end %q: want YYYY-MM-DD", end)
		}
		to = t
	}
	from := to.AddDate(0, 0, -admin.DefaultDays)
	if start != "" {
		t, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start %q: want YYYY-MM-DD", start)
		}
		from = t
	}
	return from, to, nil
}

func (a *app) printAudioStats(stats []admin.AudioStat) error {
	a.printer.Header("Audio statistics")
	if len(stats) == 0 {
		a.printer.Hint("no data")
		return nil
	}
	table := a.printer.Table("date", "source", "rating", "count", "avg duration")
	for _, s := range stats {
		table.AddRow(s.Date, s.Source, strconv.FormatFloat(s.Rating, 'f', -1, 64), strconv.Itoa(s.Count), fmt.Sprintf("%.1fs", s.AvgDuration))
	}
	return table.Render()
}

func (a *app) printTrend(trend []admin.TranslationTrend) error {
	a.printer.Header("Translation trend")
	if len(trend) == 0 {
		a.printer.Hint("no data")
		return nil
	}
	table := a.printer.Table("date", "from", "to", "translations")
	for _, t := range trend {
		table.AddRow(t.Date, t.SourceLanguage, t.TargetLanguage, humanize.Comma(int64(t.TotalTranslations)))
	}
	return table.Render()
}

func (a *app) printActivity(act []admin.UserActivity) error {
	a.printer.Header("User activity")
	if len(act) == 0 {
		a.printer.Hint("no data")
		return nil
	}
	table := a.printer.Table("user", "audio", "translations", "last audio", "last translation")
	for _, u := range act {
		table.AddRow(u.Username, strconv.Itoa(u.AudioCount), strconv.Itoa(u.TranslationCount), u.LastAudioActivity, u.LastTranslationActivity)
	}
	return table.Render()
}

func (a *app) printPerformance(p admin.SystemPerformance) {
	a.printer.Header("System performance")
	a.printer.Field("avg audio processing", fmt.Sprintf("%.2fs", p.AvgAudioProcessingTime))
	a.printer.Field("transcription success", fmt.Sprintf("%.1f%%", p.TranscriptionSuccessRate))
	a.printer.Field("translations per request", fmt.Sprintf("%.2f", p.AvgTranslationsPerRequest))
	a.printer.Field("translation requests", humanize.Comma(int64(p.TotalTranslationRequests)))
}

func (a *app) printSegments(segments []admin.UserSegment) error {
	a.printer.Header("User segments")
	if len(segments) == 0 {
		a.printer.Hint("no data")
		return nil
	}
	table := a.printer.Table("cluster", "users", "avg audio", "avg translations")
	for _, s := range segments {
		table.AddRow(strconv.Itoa(s.Cluster), strconv.Itoa(s.UserCount), fmt.Sprintf("%.1f", s.AvgAudioCount), fmt.Sprintf("%.1f", s.AvgTranslationCount))
	}
	return table.Render()
}

func (a *app) printContent(ca admin.ContentAnalysis, limit int) error {
	a.printer.Header("Word frequency")
	words := ca.WordFrequency
	if len(words) == 0 {
		a.printer.Hint("no data")
		return nil
	}
	if limit > 0 && len(words) > limit {
		words = words[:limit]
	}
	table := a.printer.Table("word", "count")
	for _, w := range words {
		table.AddRow(w.Word, humanize.Comma(int64(w.Count)))
	}
	return table.Render()
}

func (a *app) adminCreateCmd() *cobra.Command {
	var (
		username, email string
		passwordStdin   bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create another administrator account",
		RunE: a.withAdmin(func(cmd *cobra.Command, args []string, c *admin.Client) error {
			var (
				password string
				err      error
			)
			if passwordStdin {
				password, err = a.readSecret()
			} else {
				password, err = tui.PromptNewPassword("Password for the new administrator")
			}
			if err != nil {
				return err
			}
			msg, err := c.CreateAdmin(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Administrator " + username + " created"
			}
			a.printer.Success("%s", msg)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// clip shortens s to n runes for table cells.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
