package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/nmslite/targetwatch/internal/models"
)

// prompter collects a secret for a target. A nil override means the user skipped.
type prompter interface {
	Prompt(label, reason string) (*models.Override, error)
}

type terminalPrompter struct{}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{}
}

func (p *terminalPrompter) Prompt(label, reason string) (*models.Override, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("stdin is not a terminal")
	}

	var secret, portText string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Password for %s", label)).
				Description(reason+" (leave empty to skip)").
				EchoMode(huh.EchoModePassword).
				Value(&secret),
			huh.NewInput().
				Title("Port").
				Description("Leave empty for the target default").
				Value(&portText).
				Validate(validatePortText),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return parseOverride(secret, portText)
}

func validatePortText(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

// parseOverride turns prompt answers into an override. An empty secret skips.
func parseOverride(secret, portText string) (*models.Override, error) {
	if secret == "" {
		return nil, nil
	}

	override := &models.Override{Secret: secret}
	if portText = strings.TrimSpace(portText); portText != "" {
		port, err := strconv.Atoi(portText)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", portText)
		}
		override.Port = port
	}

	if err := models.ValidateOverride(*override); err != nil {
		return nil, err
	}
	return override, nil
}
