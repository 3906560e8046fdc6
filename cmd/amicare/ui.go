package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"amicare/internal/dispatch"
	"amicare/internal/session"
)

// withSpinner runs fn and shows a spinner while the dispatcher holds an action
// in flight, so rejected actions never flash one.
func withSpinner(d *dispatch.Dispatcher, text string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var spinner *pterm.SpinnerPrinter
	for {
		select {
		case err := <-done:
			if spinner != nil {
				spinner.Stop()
			}
			return err
		case <-ticker.C:
			if spinner == nil && d.IsLoading() {
				spinner, _ = pterm.DefaultSpinner.Start(text)
			}
		}
	}
}

// terminalNav prints where the app would take the user next.
type terminalNav struct{}

func (terminalNav) Navigate(route dispatch.Route, params map[string]string) {
	switch route {
	case dispatch.RoutePayoutSetup:
		pterm.Warning.Println("Set up your payout account, then run `amicare payout wait`.")
	case dispatch.RouteRequestSession:
		pterm.Info.Printfln("Update the session request %s with %s.", params["sessionId"], params["otherUserId"])
	case dispatch.RouteSessionCompleted:
		pterm.Success.Println("Session completed. Thanks for using amicare!")
	}
}

type terminalAlerts struct{}

func (terminalAlerts) Alert(title, message string) {
	if title == "Success" {
		pterm.Success.Println(message)
		return
	}
	pterm.Error.Println(message)
}

// terminalSheet stands in for the card payment sheet.
type terminalSheet struct {
	assumeYes bool
}

func (s terminalSheet) Present(_ context.Context, _ string, amountCents int64) (bool, error) {
	if s.assumeYes {
		return true, nil
	}

	text := fmt.Sprintf("Pay %s CAD for this session?", formatCents(amountCents))
	return pterm.DefaultInteractiveConfirm.WithDefaultText(text).Show()
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// confirmPrompt shows the confirmation screen copy and asks for approval.
func confirmPrompt(p session.Prompt, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}

	header := pterm.DefaultSection
	header.Println(p.Header)
	if p.Message != "" {
		if p.Destructive {
			pterm.Warning.Println(p.Message)
		} else {
			pterm.Info.Println(p.Message)
		}
	}

	return pterm.DefaultInteractiveConfirm.
		WithDefaultText(p.ButtonLabel + "?").
		Show()
}

func displayName(u *session.User) string {
	if u == nil {
		return "-"
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.ID
}
