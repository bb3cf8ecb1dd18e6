package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lannaspeech/lanna/internal/session"
	"github.com/lannaspeech/lanna/internal/tokenstore"
	"github.com/lannaspeech/lanna/internal/tui"
)

func (a *app) loginCmd() *cobra.Command {
	var (
		isAdmin       bool
		username      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := actorFor(isAdmin)
			password := ""
			if passwordStdin {
				if username == "" {
					return fmt.Errorf("--password-stdin requires --username")
				}
				pw, err := a.readSecret()
				if err != nil {
					return err
				}
				password = pw
			} else {
				title := "Sign in to Lanna"
				if isAdmin {
					title = "Sign in to the Lanna back office"
				}
				u, pw, err := tui.PromptCredentials(title, username)
				if err != nil {
					return err
				}
				username, password = u, pw
			}

			m, err := a.newSession(actor)
			if err != nil {
				return err
			}
			defer m.Close()

			sess, err := m.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			a.printer.Success("Signed in as %s", sess.ActorName)
			if !sess.ExpiresAt.IsZero() {
				a.printer.Field("token expires", sess.ExpiresAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Sign in as an administrator")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	var isAdmin bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := actorFor(isAdmin)
			m, err := a.newSession(actor)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Logout(cmd.Context()); err != nil {
				a.printer.Warn("The server could not be told: %s", tui.FormatError(err))
			}
			a.printer.Success("Signed out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Sign out the administrator session")
	return cmd
}

func (a *app) whoamiCmd() *cobra.Command {
	var isAdmin bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := actorFor(isAdmin)
			m, err := a.restore(cmd.Context(), actor)
			if err != nil {
				return err
			}
			defer m.Close()

			sess, ok := m.Session()
			if !ok {
				a.printer.Println("Not signed in")
				return nil
			}
			a.printer.Println(sess.ActorName)
			a.printer.Field("role", actor.String())
			a.printer.Field("id", sess.ActorID)
			if !sess.ExpiresAt.IsZero() {
				a.printer.Field("token expires", sess.ExpiresAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Show the administrator session")
	return cmd
}

func (a *app) refreshCmd() *cobra.Command {
	var isAdmin bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newSession(actorFor(isAdmin))
			if err != nil {
				return err
			}
			defer m.Close()

			pair, err := m.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Success("Tokens refreshed")
			a.printer.Field("access token", tokenstore.MaskToken(pair.AccessToken))
			return nil
		},
	}
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Refresh the administrator session")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var reg session.Registration
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if reg.Username == "" {
				if reg.Username, err = tui.PromptText("Username", "", "", nil); err != nil {
					return err
				}
			}
			if reg.Email == "" {
				if reg.Email, err = tui.PromptText("Email", "", "", nil); err != nil {
					return err
				}
			}
			if passwordStdin {
				reg.Password, err = a.readSecret()
				if err == nil {
					err = session.ValidatePassword(reg.Password)
				}
			} else {
				reg.Password, err = tui.PromptNewPassword("Choose a password")
			}
			if err != nil {
				return err
			}

			m, err := a.newSession(tokenstore.User)
			if err != nil {
				return err
			}
			defer m.Close()

			sess, err := m.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			a.printer.Success("Account created; signed in as %s", sess.ActorName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reg.Username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&reg.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&reg.Gender, "gender", "", "Gender")
	cmd.Flags().StringVar(&reg.BirthDate, "birth-date", "", "Birth date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func (a *app) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your profile",
	}

	show := &cobra.Command{
		Use:     "show",
		Aliases: []string{"get"},
		Short:   "Show your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.requireSession(cmd.Context(), tokenstore.User)
			if err != nil {
				return err
			}
			defer m.Close()

			p, err := m.GetProfile(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Header(p.Username)
			a.printer.Field("email", p.Email)
			a.printer.Field("gender", p.Gender)
			a.printer.Field("birth date", p.BirthDate)
			a.printer.Field("name", strings.TrimSpace(p.Details.Firstname+" "+p.Details.Lastname))
			a.printer.Field("country", p.Details.Country)
			a.printer.Field("state", p.Details.State)
			a.printer.Field("phone", p.Details.PhoneNumber)
			return nil
		},
	}

	var (
		upd     session.ProfileUpdate
		details session.ProfileDetails
	)
	update := &cobra.Command{
		Use:   "update",
		Short: "Change profile fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("firstname") || flags.Changed("lastname") || flags.Changed("country") ||
				flags.Changed("state") || flags.Changed("phone") {
				upd.Details = &details
			}
			if upd.Email == "" && upd.Gender == "" && upd.BirthDate == "" && upd.Details == nil {
				return fmt.Errorf("nothing to update; pass at least one field flag")
			}

			m, err := a.requireSession(cmd.Context(), tokenstore.User)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.UpdateProfile(cmd.Context(), upd); err != nil {
				return err
			}
			a.printer.Success("Profile updated")
			return nil
		},
	}
	update.Flags().StringVar(&upd.Email, "email", "", "Email address")
	update.Flags().StringVar(&upd.Gender, "gender", "", "Gender")
	update.Flags().StringVar(&upd.BirthDate, "birth-date", "", "Birth date (YYYY-MM-DD)")
	update.Flags().StringVar(&details.Firstname, "firstname", "", "First name")
	update.Flags().StringVar(&details.Lastname, "lastname", "", "Last name")
	update.Flags().StringVar(&details.Country, "country", "", "Country")
	update.Flags().StringVar(&details.State, "state", "", "State or province")
	update.Flags().StringVar(&details.PhoneNumber, "phone", "", "Phone number")

	cmd.AddCommand(show, update)
	return cmd
}

func (a *app) passwordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change or reset your password",
	}

	change := &cobra.Command{
		Use:   "change",
		Short: "Change the password of the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.requireSession(cmd.Context(), tokenstore.User)
			if err != nil {
				return err
			}
			defer m.Close()

			current, err := tui.PromptPassword("Current password")
			if err != nil {
				return err
			}
			next, err := tui.PromptNewPassword("New password")
			if err != nil {
				return err
			}
			if err := m.ChangePassword(cmd.Context(), current, next, next); err != nil {
				return err
			}
			a.printer.Success("Password changed")
			return nil
		},
	}

	var email string
	forgot := &cobra.Command{
		Use:   "forgot",
		Short: "Email a password reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				var err error
				if email, err = tui.PromptText("Email", "The address your account was registered with", "", nil); err != nil {
					return err
				}
			}
			m, err := a.newSession(tokenstore.User)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.ForgotPassword(cmd.Context(), email); err != nil {
				return err
			}
			a.printer.Success("If %s has an account, a reset link is on its way", email)
			return nil
		},
	}
	forgot.Flags().StringVar(&email, "email", "", "Account email address")

	var token string
	var passwordStdin bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with a reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			var (
				password string
				err      error
			)
			if passwordStdin {
				password, err = a.readSecret()
			} else {
				password, err = tui.PromptNewPassword("New password")
			}
			if err != nil {
				return err
			}

			m, err := a.newSession(tokenstore.User)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.ResetPassword(cmd.Context(), token, password); err != nil {
				return err
			}
			a.printer.Success("Password reset; sign in with the new password")
			return nil
		},
	}
	reset.Flags().StringVar(&token, "token", "", "Reset token from the email")
	reset.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the new password from stdin")

	cmd.AddCommand(change, forgot, reset)
	return cmd
}

func (a *app) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage your account",
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete your account and its recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.requireSession(cmd.Context(), tokenstore.User)
			if err != nil {
				return err
			}
			defer m.Close()

			if !yes {
				sess, _ := m.Session()
				ok, err := tui.Confirm(fmt.Sprintf("Delete the account %s?", sess.ActorName), "This cannot be undone.")
				if err != nil {
					return err
				}
				if !ok {
					a.printer.Println("Cancelled.")
					return nil
				}
			}
			password, err := tui.PromptPassword("Password")
			if err != nil {
				return err
			}
			if err := m.DeleteAccount(cmd.Context(), password); err != nil {
				return err
			}
			a.printer.Success("Account deleted")
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation")

	cmd.AddCommand(del)
	return cmd
}
