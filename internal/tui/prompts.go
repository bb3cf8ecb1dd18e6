package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/lannaspeech/lanna/internal/language"
	"github.com/lannaspeech/lanna/internal/session"
)

// ErrAborted is returned when the user leaves a prompt with esc or ctrl+c.
var ErrAborted = huh.ErrUserAborted

func run(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithTheme(theme()).Run()
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

// PromptCredentials asks for a username and password. A username passed in
// is offered as the default.
func PromptCredentials(title, username string) (string, string, error) {
	var password string
	err := run(
		huh.NewInput().
			Title(title).
			Description("Username").
			Value(&username).
			Validate(required("username")),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(required("password")),
	)
	return strings.TrimSpace(username), password, err
}

func PromptPassword(title string) (string, error) {
	var password string
	err := run(
		huh.NewInput().
			Title(title).
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(required("password")),
	)
	return password, err
}

// PromptNewPassword asks for a new password twice and checks its strength.
func PromptNewPassword(title string) (string, error) {
	var password, confirm string
	err := run(
		huh.NewInput().
			Title(title).
			Description("At least 8 characters, including an uppercase letter and a digit").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(session.ValidatePassword),
		huh.NewInput().
			Title("Confirm password").
			EchoMode(huh.EchoModePassword).
			Value(&confirm),
	)
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

func PromptText(title, description string, value string, validate func(string) error) (string, error) {
	input := huh.NewInput().
		Title(title).
		Description(description).
		Value(&value)
	if validate != nil {
		input = input.Validate(validate)
	}
	err := run(input)
	return strings.TrimSpace(value), err
}

func Confirm(title, description string) (bool, error) {
	var ok bool
	err := run(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)
	return ok, err
}

// SelectLanguage offers the service languages with current preselected.
func SelectLanguage(title, current string) (string, error) {
	options := make([]huh.Option[string], 0, len(language.Codes()))
	for _, lang := range language.List() {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", lang.NativeName, lang.Name), lang.Code))
	}
	selected := current
	err := run(
		huh.NewSelect[string]().
			Title(title).
			Options(options...).
			Value(&selected),
	)
	return selected, err
}
